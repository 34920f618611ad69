// Package dedup implements the default DedupHook (spec §4.6): Jaro-
// Winkler similarity on normalized title, combined with boolean
// equality on apply_url and company, deciding whether a new draft is
// new, merges into an existing opportunity, or needs human review.
package dedup

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/rhof/internal/model"
)

const (
	AutoMergeThreshold = 0.95
	ReviewThreshold    = 0.88
)

var (
	nonAlnum = regexp.MustCompile(`[\p{P}\p{S}\s]+`)
	foldCase = cases.Fold()
)

// Normalize applies Unicode case folding (so "STRASSE" and "straße"
// compare equal the way a title-only Jaro-Winkler pass expects) and
// collapses runs of punctuation/symbols/whitespace to a single space,
// trimming the result. Titles arrive from non-English-language sources
// (TELUS, OneForma), so this needs to be locale-aware rather than a
// plain ASCII strings.ToLower.
func Normalize(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(foldCase.String(s), " "))
}

// Candidate is an existing canonical opportunity the new draft is
// compared against.
type Candidate struct {
	OpportunityID string
	Title         string
	ApplyURL      string
	Company       string
}

// Decision is the outcome of comparing a draft against a set of
// candidates.
type Decision struct {
	Outcome       model.DedupDecision
	MatchedID     string // populated for merged_into and review_required
	Similarity    float64
}

// Evaluate compares draft against candidates (typically restricted by
// the orchestrator to the same source_id or a title-prefix bucket) and
// returns the highest-confidence decision.
//
// Decision rule (spec §4.6): similarity >= 0.95 AND equal apply_url ->
// merged_into; similarity >= 0.88 (but below auto-merge) -> review_required;
// otherwise new. When multiple candidates qualify, the one with the
// highest similarity wins.
func Evaluate(draft model.OpportunityDraft, candidates []Candidate) Decision {
	title := Normalize(draft.Title.ValueOr(""))
	applyURL := Normalize(draft.ApplyURL.ValueOr(""))
	company := Normalize(draft.Company.ValueOr(""))

	best := Decision{Outcome: model.DedupNew}
	for _, c := range candidates {
		sim := combinedSimilarity(title, company, Normalize(c.Title), Normalize(c.Company))
		sameApplyURL := applyURL != "" && applyURL == Normalize(c.ApplyURL)

		var outcome model.DedupDecision
		switch {
		case sim >= AutoMergeThreshold && sameApplyURL:
			outcome = model.DedupMergedInto
		case sim >= ReviewThreshold:
			outcome = model.DedupReviewRequired
		default:
			outcome = model.DedupNew
		}

		if rank(outcome) > rank(best.Outcome) || (rank(outcome) == rank(best.Outcome) && sim > best.Similarity) {
			best = Decision{Outcome: outcome, MatchedID: c.OpportunityID, Similarity: sim}
		}
	}
	return best
}

// combinedSimilarity is title's Jaro-Winkler score, nudged up slightly
// (a tenth of the remaining gap to 1) when normalized company also
// matches, so a shared company pushes a near-miss title toward the
// thresholds. Auto-merge still requires equal apply_url (see Evaluate).
func combinedSimilarity(titleA, companyA, titleB, companyB string) float64 {
	sim := JaroWinkler(titleA, titleB)
	if companyA != "" && companyA == companyB {
		sim += (1 - sim) * 0.1
	}
	return sim
}

// rank orders outcomes so the strongest decision wins when comparing
// multiple candidates: merged_into > review_required > new.
func rank(d model.DedupDecision) int {
	switch d {
	case model.DedupMergedInto:
		return 2
	case model.DedupReviewRequired:
		return 1
	default:
		return 0
	}
}
