package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Crawlability declares how a source may legitimately be accessed.
type Crawlability string

const (
	CrawlPublicHTML Crawlability = "PublicHtml"
	CrawlAPI        Crawlability = "Api"
	CrawlRSS        Crawlability = "Rss"
	CrawlGated      Crawlability = "Gated"
	CrawlManualOnly Crawlability = "ManualOnly"
)

// ValidCrawlability reports whether s is one of the declared enum values.
func ValidCrawlability(s string) bool {
	switch Crawlability(s) {
	case CrawlPublicHTML, CrawlAPI, CrawlRSS, CrawlGated, CrawlManualOnly:
		return true
	default:
		return false
	}
}

// Source is a registered ingestion source (spec §3.3, §4.4).
type Source struct {
	SourceID     string
	DisplayName  string
	Crawlability Crawlability
	Enabled      bool
	ConfigJSON   []byte
}

// SourceConfig is the free-form per-source tuning block, decoded from a
// registry entry's config map by registry.Entry.SourceConfig.
type SourceConfig struct {
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	ListingURLs     []string `yaml:"listing_urls" json:"listing_urls,omitempty"`
	Notes           string  `yaml:"notes" json:"notes,omitempty"`
}

// DefaultSourceConfig returns the fallback rate-limit tuning used when a
// registry entry's config block omits it.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{RateLimitPerSec: 5, RateLimitBurst: 5}
}

// FetchRunStatus is the lifecycle state of a FetchRun row.
type FetchRunStatus string

const (
	FetchRunStarted FetchRunStatus = "started"
	FetchRunOK      FetchRunStatus = "ok"
	FetchRunPartial FetchRunStatus = "partial"
	FetchRunFailed  FetchRunStatus = "failed"
)

// FetchRun is the bookkeeping row for one sync run (spec §3.3, §4.5).
type FetchRun struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      FetchRunStatus
	SummaryJSON []byte
}

// RunSummary is the decoded shape of FetchRun.SummaryJSON.
type RunSummary struct {
	SourcesTotal       int                       `json:"sources_total"`
	SourcesOK          int                       `json:"sources_ok"`
	SourcesFailed      int                       `json:"sources_failed"`
	OpportunitiesNew   int                       `json:"opportunities_new"`
	OpportunitiesUpdated int                     `json:"opportunities_updated"`
	OpportunitiesUnchanged int                   `json:"opportunities_unchanged"`
	ReviewItemsOpened  int                       `json:"review_items_opened"`
	EvidenceMissingCount int                     `json:"evidence_missing_count"`
	PerSource          map[string]SourceOutcome  `json:"per_source"`
	Cancelled          bool                      `json:"cancelled,omitempty"`
}

// SourceOutcome records one source's per-run result for the run summary
// and daily_brief.md.
type SourceOutcome struct {
	Status        string `json:"status"` // "ok" | "failed"
	ArtifactCount int    `json:"artifact_count"`
	DraftCount    int    `json:"draft_count"`
	Error         string `json:"error,omitempty"`
}

// ParseCrawlability validates and converts a raw string, returning a
// SchemaViolation-flavored error on an unrecognized value.
func ParseCrawlability(s string) (Crawlability, error) {
	if !ValidCrawlability(s) {
		return "", eris.Errorf("model: unknown crawlability %q", s)
	}
	return Crawlability(s), nil
}
