// Package store implements the Persistence Layer (spec §4.8): a
// per-opportunity transactional upsert plus append-only version
// history, against either Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/sells-group/rhof/internal/model"
)

// PersistInput is everything the Persistence Layer needs to run one
// opportunity's transaction (spec §4.8 steps 1-6).
type PersistInput struct {
	Draft         model.OpportunityDraft
	RawArtifactID string
	TagKeys       []string
	RiskFlags     []RiskFlagInput
	DedupOutcome  model.DedupDecision
	DedupPayload  *model.DedupReviewPayload // set when DedupOutcome == review_required
}

// RiskFlagInput is one rule-engine-fired risk flag to associate with
// the opportunity, carrying the severity/reason the rule declared.
type RiskFlagInput struct {
	Key      string
	Severity model.RiskFlagSeverity
	Reason   string
}

// PersistResult reports what the transaction actually did, so the
// orchestrator can update RunSummary counts (new/updated/unchanged).
type PersistResult struct {
	OpportunityID string
	VersionNo     int
	NewVersion    bool // false when candidate_data_json == latest persisted data_json
	ReviewOpened  bool
}

// Store is the persistence contract both backends satisfy. All
// methods that touch multiple tables for one opportunity are expected
// to run inside a single transaction (spec §4.8's crash-safety
// requirement); Store.PersistOpportunity is the only entry point that
// does so, so callers never manage transactions themselves.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// UpsertSource ensures a Source row exists, matching the registry.
	UpsertSource(ctx context.Context, src model.Source) error

	// BeginFetchRun opens a new FetchRun row in status=started and
	// fails fast if another FetchRun is still running (spec §5's
	// advisory-lock / fail-fast requirement).
	BeginFetchRun(ctx context.Context, sourceIDs []string) (*model.FetchRun, error)
	FinishFetchRun(ctx context.Context, runID string, status model.FetchRunStatus, summary model.RunSummary) error

	InsertRawArtifact(ctx context.Context, a model.RawArtifact) error

	// CandidatesForDedup returns existing opportunities the dedup
	// engine should compare a new draft against, restricted to
	// sourceID; there is no further bucketing.
	CandidatesForDedup(ctx context.Context, sourceID string) ([]DedupCandidateRow, error)

	// PersistOpportunity runs spec §4.8's six transactional steps for
	// one opportunity and returns what happened.
	PersistOpportunity(ctx context.Context, in PersistInput) (*PersistResult, error)

	// HasOpenReviewItem reports whether an open dedup_review item
	// already exists for opportunityID (spec §4.6's "unless an open
	// item already exists" clause).
	HasOpenReviewItem(ctx context.Context, opportunityID string) (bool, error)

	// SnapshotTables returns every row of the five exportable tables
	// for the Snapshot Exporter (spec §4.9). Nothing is scoped to a run:
	// every table is exported in full (fetch_runs itself is not one of
	// the five).
	SnapshotTables(ctx context.Context) (*SnapshotData, error)
}

// DedupCandidateRow is a minimal projection of an existing Opportunity
// plus its current version's title/company, enough for dedup.Evaluate.
type DedupCandidateRow struct {
	OpportunityID string
	Title         string
	ApplyURL      string
	Company       string
}

// SnapshotData is the full in-memory materialization the Snapshot
// Exporter serializes to columnar files (spec §4.9).
type SnapshotData struct {
	Opportunities       []model.Opportunity
	OpportunityVersions []model.OpportunityVersion
	Sources             []model.Source
	Tags                []model.Tag
	RiskFlags           []model.RiskFlag
}

// now is a seam for tests; production code always uses time.Now().UTC().
var now = func() time.Time { return time.Now().UTC() }
