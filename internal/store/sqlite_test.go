package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rhof/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedSource(t *testing.T, st *SQLiteStore, sourceID string) {
	t.Helper()
	require.NoError(t, st.UpsertSource(context.Background(), model.Source{
		SourceID:     sourceID,
		DisplayName:  "Test Source",
		Crawlability: model.CrawlPublicHTML,
		Enabled:      true,
		ConfigJSON:   []byte(`{}`),
	}))
}

func draftFor(sourceID, title, company, applyURL string) model.OpportunityDraft {
	d := model.OpportunityDraft{SourceID: sourceID}
	d.Title = model.WithValue(title, model.EvidenceRef{RawArtifactID: "artifact-1"})
	d.Company = model.WithValue(company, model.EvidenceRef{RawArtifactID: "artifact-1"})
	d.ApplyURL = model.WithValue(applyURL, model.EvidenceRef{RawArtifactID: "artifact-1"})
	return d
}

func TestSQLite_Migrate_IsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_UpsertSource_InsertsThenUpdates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSource(t, st, "acme-remote")

	require.NoError(t, st.UpsertSource(ctx, model.Source{
		SourceID:     "acme-remote",
		DisplayName:  "Acme Remote v2",
		Crawlability: model.CrawlAPI,
		Enabled:      false,
		ConfigJSON:   []byte(`{}`),
	}))

	snap, err := st.SnapshotTables(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Sources, 1)
	assert.Equal(t, "Acme Remote v2", snap.Sources[0].DisplayName)
	assert.False(t, snap.Sources[0].Enabled)
}

func TestSQLite_BeginFetchRun_FailsFastWhenAlreadyRunning(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.BeginFetchRun(ctx, []string{"acme-remote"})
	require.NoError(t, err)

	_, err = st.BeginFetchRun(ctx, []string{"acme-remote"})
	assert.Error(t, err)
}

func TestSQLite_FinishFetchRun_UpdatesStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.BeginFetchRun(ctx, []string{"acme-remote"})
	require.NoError(t, err)

	require.NoError(t, st.FinishFetchRun(ctx, run.ID, model.FetchRunOK, model.RunSummary{SourcesTotal: 1, SourcesOK: 1}))

	// A new run can now be started, since the prior one is no longer "started".
	_, err = st.BeginFetchRun(ctx, []string{"acme-remote"})
	assert.NoError(t, err)
}

func TestSQLite_PersistOpportunity_FirstInsertCreatesVersionOne(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSource(t, st, "acme-remote")

	draft := draftFor("acme-remote", "Data Annotator", "Acme", "https://acme.com/jobs/1")
	result, err := st.PersistOpportunity(ctx, PersistInput{
		Draft:         draft,
		RawArtifactID: "artifact-1",
		TagKeys:       []string{"data-annotation"},
		DedupOutcome:  model.DedupNew,
	})
	require.NoError(t, err)
	assert.True(t, result.NewVersion)
	assert.Equal(t, 1, result.VersionNo)
	assert.NotEmpty(t, result.OpportunityID)
}

func TestSQLite_PersistOpportunity_UnchangedDraftDoesNotCreateNewVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSource(t, st, "acme-remote")

	draft := draftFor("acme-remote", "Data Annotator", "Acme", "https://acme.com/jobs/1")
	in := PersistInput{Draft: draft, RawArtifactID: "artifact-1", TagKeys: []string{"data-annotation"}, DedupOutcome: model.DedupNew}

	first, err := st.PersistOpportunity(ctx, in)
	require.NoError(t, err)
	require.True(t, first.NewVersion)

	second, err := st.PersistOpportunity(ctx, in)
	require.NoError(t, err)
	assert.False(t, second.NewVersion)
	assert.Equal(t, first.OpportunityID, second.OpportunityID)
	assert.Equal(t, first.VersionNo, second.VersionNo)
}

func TestSQLite_PersistOpportunity_ChangedDraftCreatesNewVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSource(t, st, "acme-remote")

	in := PersistInput{
		Draft:         draftFor("acme-remote", "Data Annotator", "Acme", "https://acme.com/jobs/1"),
		RawArtifactID: "artifact-1",
		DedupOutcome:  model.DedupNew,
	}
	first, err := st.PersistOpportunity(ctx, in)
	require.NoError(t, err)

	in.Draft = draftFor("acme-remote", "Senior Data Annotator", "Acme", "https://acme.com/jobs/1")
	second, err := st.PersistOpportunity(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.NewVersion)
	assert.Equal(t, first.OpportunityID, second.OpportunityID)
	assert.Equal(t, first.VersionNo+1, second.VersionNo)
}

func TestSQLite_PersistOpportunity_ReviewRequiredOpensOneReviewItem(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSource(t, st, "acme-remote")

	in := PersistInput{
		Draft:         draftFor("acme-remote", "Data Annotator", "Acme", "https://acme.com/jobs/1"),
		RawArtifactID: "artifact-1",
		DedupOutcome:  model.DedupReviewRequired,
		DedupPayload:  &model.DedupReviewPayload{CandidateOpportunityID: "other-id", Similarity: 0.9, Reason: "close title match"},
	}
	result, err := st.PersistOpportunity(ctx, in)
	require.NoError(t, err)
	assert.True(t, result.ReviewOpened)

	open, err := st.HasOpenReviewItem(ctx, result.OpportunityID)
	require.NoError(t, err)
	assert.True(t, open)

	// Persisting again while the review item is still open must not
	// open a second one (spec §4.6's "unless an open item already exists").
	result2, err := st.PersistOpportunity(ctx, in)
	require.NoError(t, err)
	assert.False(t, result2.ReviewOpened)
}

func TestSQLite_CandidatesForDedup_ScopesToSource(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSource(t, st, "acme-remote")
	seedSource(t, st, "other-source")

	_, err := st.PersistOpportunity(ctx, PersistInput{
		Draft:         draftFor("acme-remote", "Data Annotator", "Acme", "https://acme.com/jobs/1"),
		RawArtifactID: "artifact-1",
		DedupOutcome:  model.DedupNew,
	})
	require.NoError(t, err)
	_, err = st.PersistOpportunity(ctx, PersistInput{
		Draft:         draftFor("other-source", "Data Annotator", "Acme", "https://other.com/jobs/1"),
		RawArtifactID: "artifact-2",
		DedupOutcome:  model.DedupNew,
	})
	require.NoError(t, err)

	candidates, err := st.CandidatesForDedup(ctx, "acme-remote")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Data Annotator", candidates[0].Title)
	assert.Equal(t, "https://acme.com/jobs/1", candidates[0].ApplyURL)
}

func TestSQLite_SnapshotTables_IncludesTagsAndRiskFlags(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSource(t, st, "acme-remote")

	_, err := st.PersistOpportunity(ctx, PersistInput{
		Draft:         draftFor("acme-remote", "Data Annotator", "Acme", "https://acme.com/jobs/1"),
		RawArtifactID: "artifact-1",
		TagKeys:       []string{"data-annotation"},
		RiskFlags:     []RiskFlagInput{{Key: "vague-company", Severity: model.SeverityLow, Reason: "single-word company"}},
		DedupOutcome:  model.DedupNew,
	})
	require.NoError(t, err)

	snap, err := st.SnapshotTables(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Opportunities, 1)
	require.Len(t, snap.OpportunityVersions, 1)
	require.Len(t, snap.Tags, 1)
	require.Len(t, snap.RiskFlags, 1)
	assert.Equal(t, "data-annotation", snap.Tags[0].Key)
	assert.Equal(t, "vague-company", snap.RiskFlags[0].Key)
}
