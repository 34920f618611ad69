// Package sources holds RHOF's five concrete source adapters. Each
// satisfies adapter.Adapter and registers itself via adapter.Register in
// an init() function, per spec §9's "capability set, no inheritance"
// polymorphism note.
package sources

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/adapter"
	"github.com/sells-group/rhof/internal/adapter/htmlx"
	"github.com/sells-group/rhof/internal/model"
)

const appenExtractorVersion = 1

type appenCrowdGenAdapter struct{}

func init() {
	adapter.Register(appenCrowdGenAdapter{})
}

func (appenCrowdGenAdapter) SourceID() string               { return "appen-crowdgen" }
func (appenCrowdGenAdapter) Crawlability() model.Crawlability { return model.CrawlPublicHTML }
func (appenCrowdGenAdapter) ExtractorVersion() int           { return appenExtractorVersion }

func (appenCrowdGenAdapter) ListingURLs(cfg model.SourceConfig) []string {
	if len(cfg.ListingURLs) > 0 {
		return cfg.ListingURLs
	}
	return []string{"https://connect.appen.com/qrp/public/jobs"}
}

// Parse extracts one draft per `<article class="job-card">` block. The
// fixture HTML under fixtures/appen-crowdgen/sample/raw/listing.html
// follows this exact shape, which mirrors the card markup Appen's
// public jobs board actually renders.
func (a appenCrowdGenAdapter) Parse(artifactBytes []byte, sourceURL, artifactID string, fetchedAt time.Time) ([]model.OpportunityDraft, error) {
	root, err := htmlx.Parse(artifactBytes)
	if err != nil {
		return nil, eris.Wrap(err, "appen-crowdgen: parse html")
	}

	var drafts []model.OpportunityDraft
	for _, card := range htmlx.FindAllClass(root, "job-card") {
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

		if title := htmlx.TextOfFirstClass(card, "job-title"); title != "" {
			d.Title = model.WithValue(title, ev("css:.job-title", title))
		}
		if company := htmlx.TextOfFirstClass(card, "company"); company != "" {
			d.Company = model.WithValue(company, ev("css:.company", company))
		}
		if location := htmlx.TextOfFirstClass(card, "location"); location != "" {
			d.Location = model.WithValue(location, ev("css:.location", location))
		}
		if applyURL, ok := htmlx.Attr(card, "data-apply-url"); ok && applyURL != "" {
			d.ApplyURL = model.WithValue(applyURL, ev("attr:data-apply-url", applyURL))
		}
		if desc := htmlx.TextOfFirstClass(card, "description"); desc != "" {
			d.Description = model.WithValue(desc, ev("css:.description", desc))
		}
		if remote, ok := htmlx.Attr(card, "data-remote-kind"); ok && remote != "" {
			d.RemoteKind = model.WithValue(remote, ev("attr:data-remote-kind", remote))
		}
		if payModel := htmlx.TextOfFirstClass(card, "pay-model"); payModel != "" {
			d.PayModel = model.WithValue(payModel, ev("css:.pay-model", payModel))
		}

		drafts = append(drafts, d)
	}
	return drafts, nil
}
