package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickworkerAdapter_ParseFixtureBundle(t *testing.T) {
	a := clickworkerAdapter{}
	artifacts := loadFixtureArtifacts(t, a, "clickworker")

	require.Len(t, artifacts, 1)
	drafts := artifacts[0].Drafts
	require.Len(t, drafts, 3)

	first := drafts[0]
	assert.Equal(t, "Image Data Categorization", first.Title.ValueOr(""))
	// Clickworker is single-company; every draft gets the same literal.
	assert.Equal(t, "Clickworker", first.Company.ValueOr(""))
	assert.Contains(t, first.VerificationRequirements.ValueOr(""), "smartphone camera")
	assert.Equal(t, "https://www.clickworker.com/clickworker-jobs/data-categorization", first.ApplyURL.ValueOr(""))
	assert.Equal(t, "one_off", first.OneOffVsOngoing.ValueOr(""))
	assert.Equal(t, "fully_remote", first.RemoteKind.ValueOr(""))

	second := drafts[1]
	assert.Equal(t, "ongoing", second.OneOffVsOngoing.ValueOr(""))

	for i, d := range drafts {
		assert.Equal(t, "Clickworker", d.Company.ValueOr(""))
		assert.InDelta(t, 100.0, d.EvidenceCoveragePercent(), 0.001, "draft %d", i)
	}
}
