package sources

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/adapter"
	"github.com/sells-group/rhof/internal/model"
)

const oneformaExtractorVersion = 1

type oneformaJobsAdapter struct{}

func init() {
	adapter.Register(oneformaJobsAdapter{})
}

func (oneformaJobsAdapter) SourceID() string                { return "oneforma-jobs" }
func (oneformaJobsAdapter) Crawlability() model.Crawlability { return model.CrawlAPI }
func (oneformaJobsAdapter) ExtractorVersion() int            { return oneformaExtractorVersion }

func (oneformaJobsAdapter) ListingURLs(cfg model.SourceConfig) []string {
	if len(cfg.ListingURLs) > 0 {
		return cfg.ListingURLs
	}
	return []string{"https://www.oneforma.com/api/v1/jobs"}
}

// oneformaJob is the shape of one entry in OneForma's public jobs API
// response, which the fixture at
// fixtures/oneforma-jobs/sample/raw/jobs.json mirrors exactly.
type oneformaJob struct {
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	Country     string   `json:"country"`
	Remote      bool     `json:"remote"`
	ApplyURL    string   `json:"apply_url"`
	Description string   `json:"description"`
	PayCurrency string   `json:"pay_currency"`
	PayMin      *float64 `json:"pay_min"`
	PayMax      *float64 `json:"pay_max"`
	PayUnit     string   `json:"pay_unit"`
	HoursPerWk  *float64 `json:"min_hours_per_week"`
	PostedAt    *string  `json:"posted_at"`
}

type oneformaResponse struct {
	Jobs []oneformaJob `json:"jobs"`
}

func (a oneformaJobsAdapter) Parse(artifactBytes []byte, sourceURL, artifactID string, fetchedAt time.Time) ([]model.OpportunityDraft, error) {
	var resp oneformaResponse
	if err := json.Unmarshal(artifactBytes, &resp); err != nil {
		return nil, eris.Wrap(err, "oneforma-jobs: decode response")
	}

	drafts := make([]model.OpportunityDraft, 0, len(resp.Jobs))
	for i, job := range resp.Jobs {
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
		base := jsonPointer(i)

		d := model.OpportunityDraft{
			SourceID:         a.SourceID(),
			SourceURL:        sourceURL,
			FetchedAt:        fetchedAt,
			ExtractorVersion: a.ExtractorVersion(),
			Title:            model.WithValue(job.Title, ev(base+"/title", job.Title)),
			Company:          model.WithValue(job.Company, ev(base+"/company", job.Company)),
			ApplyURL:         model.WithValue(job.ApplyURL, ev(base+"/apply_url", job.ApplyURL)),
		}
		if job.Country != "" {
			d.Location = model.WithValue(job.Country, ev(base+"/country", job.Country))
		}
		if job.Description != "" {
			d.Description = model.WithValue(job.Description, ev(base+"/description", job.Description))
		}
		remoteKind := string(model.RemoteOnsite)
		if job.Remote {
			remoteKind = string(model.RemoteFullyRemote)
		}
		d.RemoteKind = model.WithValue(remoteKind, ev(base+"/remote", remoteKind))

		if job.PayMin != nil || job.PayMax != nil {
			pr := model.PayRange{Currency: job.PayCurrency, Min: job.PayMin, Max: job.PayMax, Unit: job.PayUnit}
			d.PayRange = model.WithValue(pr, ev(base+"/pay", job.PayUnit))
		}
		if job.HoursPerWk != nil {
			d.MinHoursPerWeek = model.WithValue(*job.HoursPerWk, ev(base+"/min_hours_per_week", ""))
		}
		if job.PostedAt != nil {
			if t, err := time.Parse(time.RFC3339, *job.PostedAt); err == nil {
				d.PostedAt = model.WithValue(t, ev(base+"/posted_at", *job.PostedAt))
			}
		}

		drafts = append(drafts, d)
	}
	return drafts, nil
}

func jsonPointer(index int) string {
	return "/jobs/" + strconv.Itoa(index)
}
