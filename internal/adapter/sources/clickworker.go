package sources

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/adapter"
	"github.com/sells-group/rhof/internal/adapter/htmlx"
	"github.com/sells-group/rhof/internal/model"
)

const clickworkerExtractorVersion = 1

type clickworkerAdapter struct{}

func init() {
	adapter.Register(clickworkerAdapter{})
}

func (clickworkerAdapter) SourceID() string                { return "clickworker" }
func (clickworkerAdapter) Crawlability() model.Crawlability { return model.CrawlPublicHTML }
func (clickworkerAdapter) ExtractorVersion() int            { return clickworkerExtractorVersion }

func (clickworkerAdapter) ListingURLs(cfg model.SourceConfig) []string {
	if len(cfg.ListingURLs) > 0 {
		return cfg.ListingURLs
	}
	return []string{"https://www.clickworker.com/clickworker-jobs/"}
}

// Parse extracts one draft per `<div class="task-listing">` block from
// Clickworker's public jobs listing markup.
func (a clickworkerAdapter) Parse(artifactBytes []byte, sourceURL, artifactID string, fetchedAt time.Time) ([]model.OpportunityDraft, error) {
	root, err := htmlx.Parse(artifactBytes)
	if err != nil {
		return nil, eris.Wrap(err, "clickworker: parse html")
	}

	var drafts []model.OpportunityDraft
	for _, card := range htmlx.FindAllClass(root, "task-listing") {
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

		if title := htmlx.TextOfFirstClass(card, "task-title"); title != "" {
			d.Title = model.WithValue(title, ev("css:.task-title", title))
		}
		// Clickworker is a single-company task marketplace: company is
		// constant rather than parsed per card.
		d.Company = model.WithValue("Clickworker", ev("literal:site-name", "Clickworker"))

		if reqs := htmlx.TextOfFirstClass(card, "requirements"); reqs != "" {
			d.VerificationRequirements = model.WithValue(reqs, ev("css:.requirements", reqs))
		}
		if applyURL, ok := htmlx.Attr(card, "data-apply-url"); ok && applyURL != "" {
			d.ApplyURL = model.WithValue(applyURL, ev("attr:data-apply-url", applyURL))
		}
		if oneOff, ok := htmlx.Attr(card, "data-cadence"); ok && oneOff != "" {
			d.OneOffVsOngoing = model.WithValue(oneOff, ev("attr:data-cadence", oneOff))
		}
		d.RemoteKind = model.WithValue(string(model.RemoteFullyRemote), ev("literal:site-wide", "fully remote marketplace"))

		drafts = append(drafts, d)
	}
	return drafts, nil
}
