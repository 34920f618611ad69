package sources

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/adapter"
	"github.com/sells-group/rhof/internal/adapter/htmlx"
	"github.com/sells-group/rhof/internal/model"
)

const telusExtractorVersion = 1

type telusAICommunityAdapter struct{}

func init() {
	adapter.Register(telusAICommunityAdapter{})
}

func (telusAICommunityAdapter) SourceID() string                { return "telus-ai-community" }
func (telusAICommunityAdapter) Crawlability() model.Crawlability { return model.CrawlPublicHTML }
func (telusAICommunityAdapter) ExtractorVersion() int            { return telusExtractorVersion }

func (telusAICommunityAdapter) ListingURLs(cfg model.SourceConfig) []string {
	if len(cfg.ListingURLs) > 0 {
		return cfg.ListingURLs
	}
	return []string{"https://www.telusinternational.ai/community/opportunities"}
}

// Parse extracts one draft per `<li class="opportunity">` block from
// TELUS International AI Community's public opportunities listing.
func (a telusAICommunityAdapter) Parse(artifactBytes []byte, sourceURL, artifactID string, fetchedAt time.Time) ([]model.OpportunityDraft, error) {
	root, err := htmlx.Parse(artifactBytes)
	if err != nil {
		return nil, eris.Wrap(err, "telus-ai-community: parse html")
	}

	var drafts []model.OpportunityDraft
	for _, card := range htmlx.FindAllClass(root, "opportunity") {
		ev := func(selector, snippet string) model.EvidenceRef {
			return model.EvidenceRef{
				RawArtifactID:     artifactID,
				SourceURL:         sourceURL,
				SelectorOrPointer: selector,
				Snippet:           snippet,
				FetchedAt:         fetchedAt,
				ExtractorVersion:  a.ExtractorVersion(),
			}
		}

		d := model.OpportunityDraft{
			SourceID:         a.SourceID(),
			SourceURL:        sourceURL,
			FetchedAt:        fetchedAt,
			ExtractorVersion: a.ExtractorVersion(),
		}

		if title := htmlx.TextOfFirstClass(card, "opp-title"); title != "" {
			d.Title = model.WithValue(title, ev("css:.opp-title", title))
		}
		d.Company = model.WithValue("TELUS International AI", ev("literal:site-name", "TELUS International AI"))

		if geo := htmlx.TextOfFirstClass(card, "geo"); geo != "" {
			d.GeoConstraints = model.WithValue(geo, ev("css:.geo", geo))
			d.Location = model.WithValue(geo, ev("css:.geo", geo))
		}
		if applyURL, ok := htmlx.Attr(card, "data-apply-url"); ok && applyURL != "" {
			d.ApplyURL = model.WithValue(applyURL, ev("attr:data-apply-url", applyURL))
		}
		if methods := htmlx.TextOfFirstClass(card, "payment-methods"); methods != "" {
			d.PaymentMethods = model.WithValue([]string{methods}, ev("css:.payment-methods", methods))
		}
		if desc := htmlx.TextOfFirstClass(card, "description"); desc != "" {
			d.Description = model.WithValue(desc, ev("css:.description", desc))
		}
		d.RemoteKind = model.WithValue(string(model.RemoteFullyRemote), ev("literal:site-wide", "remote community program"))

		drafts = append(drafts, d)
	}
	return drafts, nil
}
