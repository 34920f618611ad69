package model

import "time"

// OpportunityStatus is the lifecycle state of a persisted Opportunity.
type OpportunityStatus string

const (
	OpportunityActive   OpportunityStatus = "active"
	OpportunityStale    OpportunityStatus = "stale"
	OpportunityArchived OpportunityStatus = "archived"
)

// Opportunity is the persisted canonical record. Its provenance-bearing
// payload lives in the current OpportunityVersion, not on this row.
type Opportunity struct {
	ID                string
	SourceID          string
	CanonicalKey      string
	ApplyURL          string
	Status            OpportunityStatus
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	CurrentVersionID  *string
}

// OpportunityVersion is an immutable, append-only snapshot of a draft's
// serialized payload. version_no is 1-based and dense per opportunity.
type OpportunityVersion struct {
	ID             string
	OpportunityID  string
	RawArtifactID  string
	VersionNo      int
	DataJSON       []byte
	EvidenceJSON   []byte
	DiffJSON       []byte // reserved, currently unused
	CreatedAt      time.Time
}
