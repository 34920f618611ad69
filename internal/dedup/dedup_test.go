package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/rhof/internal/model"
)

func draft(title, applyURL, company string) model.OpportunityDraft {
	ev := model.EvidenceRef{}
	return model.OpportunityDraft{
		Title:    model.WithValue(title, ev),
		ApplyURL: model.WithValue(applyURL, ev),
		Company:  model.WithValue(company, ev),
	}
}

func TestEvaluate_ExactTitleAndApplyURLMerges(t *testing.T) {
	d := draft("Audio Transcription", "https://example.com/jobs/1", "Appen")
	candidates := []Candidate{
		{OpportunityID: "opp-1", Title: "Audio Transcription", ApplyURL: "https://example.com/jobs/1", Company: "Appen"},
	}
	decision := Evaluate(d, candidates)
	assert.Equal(t, model.DedupMergedInto, decision.Outcome)
	assert.Equal(t, "opp-1", decision.MatchedID)
}

func TestEvaluate_HighSimilarityDifferentApplyURLReviewRequired(t *testing.T) {
	d := draft("Audio Transcription Task", "https://example.com/jobs/2", "Appen")
	candidates := []Candidate{
		{OpportunityID: "opp-1", Title: "Audio Transcription Tasks", ApplyURL: "https://example.com/jobs/1", Company: "Appen"},
	}
	decision := Evaluate(d, candidates)
	assert.Equal(t, model.DedupReviewRequired, decision.Outcome)
}

func TestEvaluate_DissimilarTitlesAreNew(t *testing.T) {
	d := draft("Warehouse Forklift Operator", "https://example.com/jobs/3", "LogiCo")
	candidates := []Candidate{
		{OpportunityID: "opp-1", Title: "Audio Transcription", ApplyURL: "https://example.com/jobs/1", Company: "Appen"},
	}
	decision := Evaluate(d, candidates)
	assert.Equal(t, model.DedupNew, decision.Outcome)
}

func TestEvaluate_NoCandidatesIsNew(t *testing.T) {
	d := draft("Audio Transcription", "https://example.com/jobs/1", "Appen")
	decision := Evaluate(d, nil)
	assert.Equal(t, model.DedupNew, decision.Outcome)
}

func TestEvaluate_PicksHighestRankingCandidate(t *testing.T) {
	d := draft("Audio Transcription", "https://example.com/jobs/1", "Appen")
	candidates := []Candidate{
		{OpportunityID: "opp-review", Title: "Audio Transcriptions", ApplyURL: "https://example.com/jobs/other", Company: "Appen"},
		{OpportunityID: "opp-merge", Title: "Audio Transcription", ApplyURL: "https://example.com/jobs/1", Company: "Appen"},
	}
	decision := Evaluate(d, candidates)
	assert.Equal(t, model.DedupMergedInto, decision.Outcome)
	assert.Equal(t, "opp-merge", decision.MatchedID)
}

func TestNormalize_CollapsesPunctuationAndCase(t *testing.T) {
	assert.Equal(t, "audio transcription", Normalize("Audio, Transcription!!"))
}
