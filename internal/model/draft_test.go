package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvidence() EvidenceRef {
	return EvidenceRef{
		RawArtifactID:     "artifact-1",
		SourceURL:         "https://example.com/job/1",
		SelectorOrPointer: "css:h1.title",
		Snippet:           "Audio Transcription",
		FetchedAt:         time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC),
		ExtractorVersion:  1,
	}
}

func TestCanonicalKey_PrefersApplyURL(t *testing.T) {
	applyURL := "HTTPS://Example.com/Apply?id=42"
	title := "Data Labeler"
	company := "Acme"

	key := CanonicalKey("appen-crowdgen", &applyURL, &title, &company)
	assert.Equal(t, "appen-crowdgen:https example com apply id 42", key)
}

func TestCanonicalKey_FallsBackToTitleCompany(t *testing.T) {
	title := "Data Labeler"
	company := "Acme Inc."

	key := CanonicalKey("appen-crowdgen", nil, &title, &company)
	assert.Equal(t, "appen-crowdgen:data labeler|acme inc", key)
}

func TestCanonicalKey_EmptyApplyURLFallsBack(t *testing.T) {
	empty := ""
	title := "Data Labeler"
	company := "Acme"

	withEmpty := CanonicalKey("s1", &empty, &title, &company)
	withNil := CanonicalKey("s1", nil, &title, &company)
	assert.Equal(t, withNil, withEmpty)
}

func TestEvidenceCoveragePercent_FullyCovered(t *testing.T) {
	ev := sampleEvidence()
	d := &OpportunityDraft{
		Title:   WithValue("Audio Transcription", ev),
		Company: WithValue("Appen", ev),
	}
	assert.InDelta(t, 100.0, d.EvidenceCoveragePercent(), 0.001)
}

func TestEvidenceCoveragePercent_PartiallyCovered(t *testing.T) {
	ev := sampleEvidence()
	title := "Audio Transcription"
	d := &OpportunityDraft{
		Title:   WithValue(title, ev),
		Company: Field[string]{Value: strPtr("Appen")}, // no evidence
	}
	assert.InDelta(t, 50.0, d.EvidenceCoveragePercent(), 0.001)
}

func TestEvidenceCoveragePercent_NoPopulatedFieldsIsVacuouslyFull(t *testing.T) {
	d := &OpportunityDraft{}
	assert.InDelta(t, 100.0, d.EvidenceCoveragePercent(), 0.001)
}

func TestSerializeData_RoundTripFixedPoint(t *testing.T) {
	ev := sampleEvidence()
	d := &OpportunityDraft{
		Title:      WithValue("Audio Transcription", ev),
		Company:    WithValue("Appen", ev),
		RemoteKind: WithValue(string(RemoteFullyRemote), ev),
	}

	first, err := d.SerializeData()
	require.NoError(t, err)

	second, err := d.SerializeData()
	require.NoError(t, err)

	assert.Equal(t, first, second, "serialize(draft) must be a fixed point")
	assert.NotContains(t, string(first), "\n")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(first, &parsed))
	reserialized, err := json.Marshal(parsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(reserialized), "serialize -> parse -> serialize must be a fixed point")
}

func TestSerializeEvidence_NullsUnpopulatedFields(t *testing.T) {
	ev := sampleEvidence()
	d := &OpportunityDraft{
		Title: WithValue("Audio Transcription", ev),
	}

	out, err := d.SerializeEvidence()
	require.NoError(t, err)
	assert.Contains(t, string(out), "raw_artifact_id")
	assert.Contains(t, string(out), `"company":null`)
}

func strPtr(s string) *string { return &s }
