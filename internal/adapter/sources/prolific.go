package sources

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/adapter"
	"github.com/sells-group/rhof/internal/model"
)

const prolificExtractorVersion = 1

// prolificAdapter is ManualOnly: Prolific gates its study listings
// behind an authenticated participant account, so RHOF never crawls it
// live. Its raw artifact is a manually curated JSON snapshot dropped
// under manual/prolific/<name>.json.
type prolificAdapter struct{}

func init() {
	adapter.Register(prolificAdapter{})
}

func (prolificAdapter) SourceID() string                { return "prolific" }
func (prolificAdapter) Crawlability() model.Crawlability { return model.CrawlManualOnly }
func (prolificAdapter) ExtractorVersion() int            { return prolificExtractorVersion }

// ListingURLs is always empty: ManualOnly sources never fetch live
// (spec §4.3 "fetch may be a no-op for ManualOnly").
func (prolificAdapter) ListingURLs(cfg model.SourceConfig) []string { return nil }

type prolificStudy struct {
	Title           string   `json:"title"`
	Researcher      string   `json:"researcher"`
	ApplyURL        string   `json:"apply_url"`
	Description     string   `json:"description"`
	PayCurrency     string   `json:"pay_currency"`
	PayAmount       float64  `json:"pay_amount"`
	EstimatedMins   float64  `json:"estimated_minutes"`
	Eligibility     []string `json:"eligibility"`
	PaymentMethods  []string `json:"payment_methods"`
}

type prolificManualBundle struct {
	Studies []prolificStudy `json:"studies"`
}

func (a prolificAdapter) Parse(artifactBytes []byte, sourceURL, artifactID string, fetchedAt time.Time) ([]model.OpportunityDraft, error) {
	var bundle prolificManualBundle
	if err := json.Unmarshal(artifactBytes, &bundle); err != nil {
		return nil, eris.Wrap(err, "prolific: decode manual bundle")
	}

	drafts := make([]model.OpportunityDraft, 0, len(bundle.Studies))
	for i, s := range bundle.Studies {
		ev := func(pointer, snippet string) model.EvidenceRef {
			return model.EvidenceRef{
				RawArtifactID:     artifactID,
				SourceURL:         sourceURL,
				SelectorOrPointer: pointer,
				Snippet:           snippet,
				FetchedAt:         fetchedAt,
				ExtractorVersion:  a.ExtractorVersion(),
			}
		}
		base := "/studies/" + strconv.Itoa(i)

		hoursPerWeek := s.EstimatedMins / 60

		d := model.OpportunityDraft{
			SourceID:                 a.SourceID(),
			SourceURL:                sourceURL,
			FetchedAt:                fetchedAt,
			ExtractorVersion:         a.ExtractorVersion(),
			Title:                    model.WithValue(s.Title, ev(base+"/title", s.Title)),
			Company:                  model.WithValue(s.Researcher, ev(base+"/researcher", s.Researcher)),
			ApplyURL:                 model.WithValue(s.ApplyURL, ev(base+"/apply_url", s.ApplyURL)),
			Description:              model.WithValue(s.Description, ev(base+"/description", s.Description)),
			RemoteKind:               model.WithValue(string(model.RemoteFullyRemote), ev("literal:site-wide", "online study")),
			OneOffVsOngoing:          model.WithValue("one_off", ev("literal:study-model", "one_off")),
			PayModel:                 model.WithValue("per_task", ev("literal:pay-model", "per_task")),
			MinHoursPerWeek:          model.WithValue(hoursPerWeek, ev(base+"/estimated_minutes", "")),
		}
		pr := model.PayRange{Currency: s.PayCurrency, Min: &s.PayAmount, Max: &s.PayAmount, Unit: "task"}
		d.PayRange = model.WithValue(pr, ev(base+"/pay_amount", s.PayCurrency))

		if len(s.Eligibility) > 0 {
			d.Requirements = model.WithValue(s.Eligibility, ev(base+"/eligibility", ""))
		}
		if len(s.PaymentMethods) > 0 {
			d.PaymentMethods = model.WithValue(s.PaymentMethods, ev(base+"/payment_methods", ""))
		}

		drafts = append(drafts, d)
	}
	return drafts, nil
}
