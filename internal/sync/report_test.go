package sync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rhof/internal/model"
)

func TestWriteDelta_TalliesStatusCounts(t *testing.T) {
	dir := t.TempDir()
	records := []deltaRecord{
		{OpportunityID: "o1", Status: "new"},
		{OpportunityID: "o2", Status: "new"},
		{OpportunityID: "o3", Status: "updated"},
		{OpportunityID: "o4", Status: "unchanged"},
	}
	require.NoError(t, writeDelta(dir, "run-1", records))

	data, err := os.ReadFile(filepath.Join(dir, "opportunities_delta.json"))
	require.NoError(t, err)

	var df deltaFile
	require.NoError(t, json.Unmarshal(data, &df))
	assert.Equal(t, "run-1", df.RunID)
	assert.Equal(t, 2, df.New)
	assert.Equal(t, 1, df.Updated)
	assert.Equal(t, 1, df.Unchanged)
	assert.Len(t, df.Records, 4)
}

func TestWriteDelta_EmptyRecords(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeDelta(dir, "run-2", nil))

	data, err := os.ReadFile(filepath.Join(dir, "opportunities_delta.json"))
	require.NoError(t, err)
	var df deltaFile
	require.NoError(t, json.Unmarshal(data, &df))
	assert.Zero(t, df.New)
	assert.Zero(t, df.Updated)
	assert.Zero(t, df.Unchanged)
}

func TestWriteDailyBrief_IncludesSummaryAndPerSourceLines(t *testing.T) {
	dir := t.TempDir()
	summary := model.RunSummary{
		SourcesTotal:           2,
		SourcesOK:              1,
		SourcesFailed:          1,
		OpportunitiesNew:       3,
		OpportunitiesUpdated:   1,
		OpportunitiesUnchanged: 2,
		ReviewItemsOpened:      1,
		EvidenceMissingCount:   4,
		PerSource: map[string]model.SourceOutcome{
			"appen-crowdgen": {Status: "ok", ArtifactCount: 1, DraftCount: 3},
			"prolific":       {Status: "failed", Error: "boom"},
		},
	}
	require.NoError(t, writeDailyBrief(dir, "run-3", summary))

	data, err := os.ReadFile(filepath.Join(dir, "daily_brief.md"))
	require.NoError(t, err)
	brief := string(data)

	assert.Contains(t, brief, "# Sync Run run-3")
	assert.Contains(t, brief, "2 total, 1 ok, 1 failed")
	assert.Contains(t, brief, "3 new, 1 updated, 2 unchanged")
	assert.Contains(t, brief, "appen-crowdgen: ok (1 artifacts, 3 drafts)")
	assert.Contains(t, brief, "prolific: failed (0 artifacts, 0 drafts)")
	assert.Contains(t, brief, "Error: boom")
}

func TestWriteDailyBrief_NotesCancellation(t *testing.T) {
	dir := t.TempDir()
	summary := model.RunSummary{Cancelled: true, PerSource: map[string]model.SourceOutcome{}}
	require.NoError(t, writeDailyBrief(dir, "run-4", summary))

	data, err := os.ReadFile(filepath.Join(dir, "daily_brief.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "cancelled before completion")
}
