package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rhof/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_UpsertSource_RunsUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO sources`).
		WithArgs("acme-remote", "Acme Remote", "PublicHtml", true, []byte("{}")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertSource(context.Background(), model.Source{
		SourceID:     "acme-remote",
		DisplayName:  "Acme Remote",
		Crawlability: model.CrawlPublicHTML,
		Enabled:      true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BeginFetchRun_FailsWhenLockNotAcquired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WithArgs(fetchRunLockKey).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	_, err := s.BeginFetchRun(context.Background(), []string{"acme-remote"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BeginFetchRun_InsertsRunWhenLockAcquired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WithArgs(fetchRunLockKey).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`INSERT INTO fetch_runs`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.BeginFetchRun(context.Background(), []string{"acme-remote"})
	require.NoError(t, err)
	assert.Equal(t, model.FetchRunStarted, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishFetchRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE fetch_runs`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishFetchRun(context.Background(), "missing-run", model.FetchRunOK, model.RunSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRawArtifact_OnConflictDoesNothing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO raw_artifacts`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.InsertRawArtifact(context.Background(), model.RawArtifact{
		ID: "artifact-1", FetchRunID: "run-1", SourceID: "acme-remote",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HasOpenReviewItem_QueriesCount(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM review_items`).
		WithArgs("opp-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	has, err := s.HasOpenReviewItem(context.Background(), "opp-1")
	require.NoError(t, err)
	assert.True(t, has)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistOpportunity_InsertsNewOpportunityAndVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM opportunities`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO opportunities`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT version_no, data_json FROM opportunity_versions`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO opportunity_versions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE opportunities SET current_version_id`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM opportunity_tags`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM opportunity_risk_flags`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	draft := model.OpportunityDraft{SourceID: "acme-remote"}
	draft.Title = model.WithValue("Data Annotator", model.EvidenceRef{RawArtifactID: "artifact-1"})
	draft.ApplyURL = model.WithValue("https://acme.com/jobs/1", model.EvidenceRef{RawArtifactID: "artifact-1"})

	result, err := s.PersistOpportunity(context.Background(), PersistInput{
		Draft:         draft,
		RawArtifactID: "artifact-1",
		DedupOutcome:  model.DedupNew,
	})
	require.NoError(t, err)
	assert.True(t, result.NewVersion)
	assert.Equal(t, 1, result.VersionNo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistOpportunity_BulkInsertsTagAndRiskFlagAssociations(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM opportunities`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO opportunities`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT version_no, data_json FROM opportunity_versions`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO opportunity_versions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE opportunities SET current_version_id`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM opportunity_tags`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO tags`).
		WithArgs("remote").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"opportunity_tags"}, []string{"opportunity_id", "tag_key"}).
		WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM opportunity_risk_flags`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO risk_flags`).
		WithArgs("low_pay").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"opportunity_risk_flags"}, []string{"opportunity_id", "risk_flag_key", "severity", "reason"}).
		WillReturnResult(1)
	mock.ExpectCommit()

	draft := model.OpportunityDraft{SourceID: "acme-remote"}
	draft.Title = model.WithValue("Data Annotator", model.EvidenceRef{RawArtifactID: "artifact-1"})
	draft.ApplyURL = model.WithValue("https://acme.com/jobs/1", model.EvidenceRef{RawArtifactID: "artifact-1"})

	result, err := s.PersistOpportunity(context.Background(), PersistInput{
		Draft:         draft,
		RawArtifactID: "artifact-1",
		DedupOutcome:  model.DedupNew,
		TagKeys:       []string{"remote"},
		RiskFlags: []RiskFlagInput{
			{Key: "low_pay", Severity: model.SeverityLow, Reason: "below market rate"},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.NewVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistOpportunity_RollsBackOnInsertError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM opportunities`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO opportunities`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	draft := model.OpportunityDraft{SourceID: "acme-remote"}
	draft.Title = model.WithValue("Data Annotator", model.EvidenceRef{RawArtifactID: "artifact-1"})

	_, err := s.PersistOpportunity(context.Background(), PersistInput{
		Draft:         draft,
		RawArtifactID: "artifact-1",
		DedupOutcome:  model.DedupNew,
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
