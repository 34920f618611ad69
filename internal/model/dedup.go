package model

import "time"

// DedupDecision is the outcome of comparing a new draft against existing
// canonical opportunities (spec §4.6).
type DedupDecision string

const (
	DedupNew            DedupDecision = "new"
	DedupMergedInto     DedupDecision = "merged_into"
	DedupReviewRequired DedupDecision = "review_required"
)

// DedupCluster is a proposed grouping of opportunities believed to be
// duplicates of one another. Persistence of clusters is reserved by
// spec §4.6 and may remain empty; the type exists so a future
// implementation has somewhere to write to without a schema change.
type DedupCluster struct {
	ID           string
	Confidence   float64
	PrimaryMemberID string
	CreatedAt    time.Time
}

// DedupClusterMember links an opportunity to a DedupCluster.
type DedupClusterMember struct {
	ClusterID     string
	OpportunityID string
}

// ReviewItemStatus is the lifecycle state of a ReviewItem.
type ReviewItemStatus string

const (
	ReviewOpen      ReviewItemStatus = "open"
	ReviewResolved  ReviewItemStatus = "resolved"
	ReviewDismissed ReviewItemStatus = "dismissed"
)

// ReviewItem is a queued human-decidable task, initially only produced
// by the dedup engine's borderline-similarity decision. At most one open
// item may exist per (ItemType, OpportunityID).
type ReviewItem struct {
	ID             string
	ItemType       string // "dedup_review"
	Status         ReviewItemStatus
	DedupClusterID *string
	OpportunityID  string
	PayloadJSON    []byte
	ResolvedAt     *time.Time
}

// DedupReviewPayload is the decoded shape of ReviewItem.PayloadJSON for
// ItemType == "dedup_review".
type DedupReviewPayload struct {
	CandidateOpportunityID string  `json:"candidate_opportunity_id"`
	Similarity             float64 `json:"similarity"`
	Reason                 string  `json:"reason"`
}
