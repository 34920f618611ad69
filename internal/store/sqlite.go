package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/rhof/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// local runs and the test suite; every write path mirrors the
// Postgres backend's SQL shape so the two stay easy to keep in sync.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn (e.g. "file:rhof.db") and
// configures WAL mode, following the same pragmas the teacher's
// SQLite backend sets.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	source_id    TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	crawlability TEXT NOT NULL,
	enabled      INTEGER NOT NULL DEFAULT 1,
	config_json  TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS fetch_runs (
	id            TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME,
	status        TEXT NOT NULL,
	summary_json  TEXT NOT NULL DEFAULT '{}',
	source_ids_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS raw_artifacts (
	id            TEXT PRIMARY KEY,
	fetch_run_id  TEXT NOT NULL REFERENCES fetch_runs(id),
	source_id     TEXT NOT NULL REFERENCES sources(source_id),
	source_url    TEXT NOT NULL,
	storage_path  TEXT NOT NULL,
	content_type  TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	http_status   INTEGER NOT NULL,
	byte_size     INTEGER NOT NULL,
	fetched_at    DATETIME NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS opportunities (
	id                 TEXT PRIMARY KEY,
	source_id          TEXT NOT NULL REFERENCES sources(source_id),
	canonical_key      TEXT NOT NULL,
	apply_url          TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'active',
	first_seen_at      DATETIME NOT NULL,
	last_seen_at       DATETIME NOT NULL,
	current_version_id TEXT,
	UNIQUE(source_id, canonical_key)
);

CREATE TABLE IF NOT EXISTS opportunity_versions (
	id              TEXT PRIMARY KEY,
	opportunity_id  TEXT NOT NULL REFERENCES opportunities(id),
	raw_artifact_id TEXT NOT NULL,
	version_no      INTEGER NOT NULL,
	data_json       TEXT NOT NULL,
	evidence_json   TEXT NOT NULL,
	diff_json       TEXT,
	created_at      DATETIME NOT NULL,
	UNIQUE(opportunity_id, version_no)
);

CREATE TABLE IF NOT EXISTS tags (
	key TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS risk_flags (
	key TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS opportunity_tags (
	opportunity_id TEXT NOT NULL REFERENCES opportunities(id),
	tag_key        TEXT NOT NULL REFERENCES tags(key),
	PRIMARY KEY (opportunity_id, tag_key)
);

CREATE TABLE IF NOT EXISTS opportunity_risk_flags (
	opportunity_id TEXT NOT NULL REFERENCES opportunities(id),
	risk_flag_key  TEXT NOT NULL REFERENCES risk_flags(key),
	severity       TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (opportunity_id, risk_flag_key)
);

CREATE TABLE IF NOT EXISTS review_items (
	id                TEXT PRIMARY KEY,
	item_type         TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'open',
	dedup_cluster_id  TEXT,
	opportunity_id    TEXT NOT NULL REFERENCES opportunities(id),
	payload_json      TEXT NOT NULL DEFAULT '{}',
	resolved_at       DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_items_open
	ON review_items(item_type, opportunity_id) WHERE status = 'open';

CREATE INDEX IF NOT EXISTS idx_raw_artifacts_fetch_run ON raw_artifacts(fetch_run_id);
CREATE INDEX IF NOT EXISTS idx_opportunity_versions_opp ON opportunity_versions(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_source ON opportunities(source_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSource(ctx context.Context, src model.Source) error {
	cfg := src.ConfigJSON
	if len(cfg) == 0 {
		cfg = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (source_id, display_name, crawlability, enabled, config_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			display_name = excluded.display_name,
			crawlability = excluded.crawlability,
			enabled = excluded.enabled,
			config_json = excluded.config_json`,
		src.SourceID, src.DisplayName, string(src.Crawlability), boolToInt(src.Enabled), string(cfg),
	)
	return eris.Wrapf(err, "sqlite: upsert source %s", src.SourceID)
}

func (s *SQLiteStore) BeginFetchRun(ctx context.Context, sourceIDs []string) (*model.FetchRun, error) {
	var running int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fetch_runs WHERE status = ?`, string(model.FetchRunStarted),
	).Scan(&running); err != nil {
		return nil, eris.Wrap(err, "sqlite: check running fetch runs")
	}
	if running > 0 {
		return nil, eris.New("sqlite: a fetch run is already in progress")
	}

	id := uuid.New().String()
	startedAt := now()
	sourceIDsJSON, err := json.Marshal(sourceIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal source ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fetch_runs (id, started_at, status, source_ids_json) VALUES (?, ?, ?, ?)`,
		id, startedAt, string(model.FetchRunStarted), string(sourceIDsJSON),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert fetch run")
	}
	return &model.FetchRun{ID: id, StartedAt: startedAt, Status: model.FetchRunStarted}, nil
}

func (s *SQLiteStore) FinishFetchRun(ctx context.Context, runID string, status model.FetchRunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE fetch_runs SET status = ?, finished_at = ?, summary_json = ? WHERE id = ?`,
		string(status), now(), string(summaryJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish fetch run %s", runID)
	}
	return checkRowsAffected(res, "fetch_run", runID)
}

func (s *SQLiteStore) InsertRawArtifact(ctx context.Context, a model.RawArtifact) error {
	meta := a.MetadataJSON
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_artifacts
			(id, fetch_run_id, source_id, source_url, storage_path, content_type, content_hash, http_status, byte_size, fetched_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		a.ID, a.FetchRunID, a.SourceID, a.SourceURL, a.StoragePath, a.ContentType, a.ContentHash, a.HTTPStatus, a.ByteSize, a.FetchedAt, string(meta),
	)
	return eris.Wrapf(err, "sqlite: insert raw artifact %s", a.ID)
}

func (s *SQLiteStore) CandidatesForDedup(ctx context.Context, sourceID string) ([]DedupCandidateRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.apply_url,
			COALESCE(json_extract(v.data_json, '$.title'), ''),
			COALESCE(json_extract(v.data_json, '$.company'), '')
		FROM opportunities o
		LEFT JOIN opportunity_versions v ON v.id = o.current_version_id
		WHERE o.source_id = ?`, sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: candidates for %s", sourceID)
	}
	defer rows.Close()

	var out []DedupCandidateRow
	for rows.Next() {
		var c DedupCandidateRow
		if err := rows.Scan(&c.OpportunityID, &c.ApplyURL, &c.Title, &c.Company); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dedup candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: candidates iterate")
}

func (s *SQLiteStore) HasOpenReviewItem(ctx context.Context, opportunityID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_items WHERE opportunity_id = ? AND item_type = 'dedup_review' AND status = 'open'`,
		opportunityID,
	).Scan(&n)
	return n > 0, eris.Wrap(err, "sqlite: check open review item")
}

func (s *SQLiteStore) PersistOpportunity(ctx context.Context, in PersistInput) (*PersistResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin persist tx")
	}
	defer func() { _ = tx.Rollback() }()

	d := in.Draft
	canonicalKey := model.CanonicalKey(d.SourceID, d.ApplyURL.Value, d.Title.Value, d.Company.Value)
	nowTS := now()

	var opportunityID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM opportunities WHERE source_id = ? AND canonical_key = ?`,
		d.SourceID, canonicalKey,
	).Scan(&opportunityID)

	switch {
	case err == sql.ErrNoRows:
		opportunityID = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO opportunities (id, source_id, canonical_key, apply_url, status, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			opportunityID, d.SourceID, canonicalKey, d.ApplyURL.ValueOr(""), string(model.OpportunityActive), nowTS, nowTS,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert opportunity")
		}
	case err != nil:
		return nil, eris.Wrap(err, "sqlite: lookup opportunity")
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE opportunities SET last_seen_at = ?, apply_url = ? WHERE id = ?`,
			nowTS, d.ApplyURL.ValueOr(""), opportunityID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: update opportunity")
		}
	}

	var priorMax sql.NullInt64
	var priorData sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT version_no, data_json FROM opportunity_versions
		WHERE opportunity_id = ? ORDER BY version_no DESC LIMIT 1`,
		opportunityID,
	).Scan(&priorMax, &priorData)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: load latest version")
	}

	candidateData, err := d.SerializeData()
	if err != nil {
		return nil, err
	}
	candidateEvidence, err := d.SerializeEvidence()
	if err != nil {
		return nil, err
	}

	result := &PersistResult{OpportunityID: opportunityID}
	newVersion := !priorData.Valid || !bytes.Equal([]byte(priorData.String), candidateData)
	result.NewVersion = newVersion
	result.VersionNo = int(priorMax.Int64)

	if newVersion {
		versionNo := int(priorMax.Int64) + 1
		versionID := uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO opportunity_versions (id, opportunity_id, raw_artifact_id, version_no, data_json, evidence_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			versionID, opportunityID, in.RawArtifactID, versionNo, string(candidateData), string(candidateEvidence), nowTS,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert version")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE opportunities SET current_version_id = ? WHERE id = ?`,
			versionID, opportunityID,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: set current version")
		}
		result.VersionNo = versionNo
	}

	if err := replaceAssociations(ctx, tx, opportunityID, in.TagKeys, in.RiskFlags); err != nil {
		return nil, err
	}

	if in.DedupOutcome == model.DedupReviewRequired {
		var openCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM review_items WHERE opportunity_id = ? AND item_type = 'dedup_review' AND status = 'open'`,
			opportunityID,
		).Scan(&openCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: check open review item")
		}
		if openCount == 0 {
			payload := []byte("{}")
			if in.DedupPayload != nil {
				payload, err = json.Marshal(in.DedupPayload)
				if err != nil {
					return nil, eris.Wrap(err, "sqlite: marshal review payload")
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO review_items (id, item_type, status, opportunity_id, payload_json)
				VALUES (?, 'dedup_review', 'open', ?, ?)`,
				uuid.New().String(), opportunityID, string(payload),
			); err != nil {
				return nil, eris.Wrap(err, "sqlite: insert review item")
			}
			result.ReviewOpened = true
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit persist tx")
	}
	return result, nil
}

// replaceAssociations upserts registry rows for tagKeys/riskFlags, then
// replaces the opportunity's association rows wholesale (spec §4.8
// step 5, spec §9(a): tags are replaced, not merged, on every sync).
func replaceAssociations(ctx context.Context, tx *sql.Tx, opportunityID string, tagKeys []string, riskFlags []RiskFlagInput) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM opportunity_tags WHERE opportunity_id = ?`, opportunityID); err != nil {
		return eris.Wrap(err, "sqlite: clear opportunity_tags")
	}
	for _, key := range tagKeys {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tags (key) VALUES (?) ON CONFLICT(key) DO NOTHING`, key); err != nil {
			return eris.Wrapf(err, "sqlite: upsert tag %s", key)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO opportunity_tags (opportunity_id, tag_key) VALUES (?, ?)`,
			opportunityID, key,
		); err != nil {
			return eris.Wrapf(err, "sqlite: link tag %s", key)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM opportunity_risk_flags WHERE opportunity_id = ?`, opportunityID); err != nil {
		return eris.Wrap(err, "sqlite: clear opportunity_risk_flags")
	}
	for _, rf := range riskFlags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO risk_flags (key) VALUES (?) ON CONFLICT(key) DO NOTHING`, rf.Key); err != nil {
			return eris.Wrapf(err, "sqlite: upsert risk flag %s", rf.Key)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO opportunity_risk_flags (opportunity_id, risk_flag_key, severity, reason)
			VALUES (?, ?, ?, ?)`,
			opportunityID, rf.Key, string(rf.Severity), rf.Reason,
		); err != nil {
			return eris.Wrapf(err, "sqlite: link risk flag %s", rf.Key)
		}
	}
	return nil
}

func (s *SQLiteStore) SnapshotTables(ctx context.Context) (*SnapshotData, error) {
	out := &SnapshotData{}

	oppRows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, canonical_key, apply_url, status, first_seen_at, last_seen_at, current_version_id FROM opportunities`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot opportunities")
	}
	defer oppRows.Close()
	for oppRows.Next() {
		var o model.Opportunity
		var currentVersionID sql.NullString
		if err := oppRows.Scan(&o.ID, &o.SourceID, &o.CanonicalKey, &o.ApplyURL, &o.Status, &o.FirstSeenAt, &o.LastSeenAt, &currentVersionID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		if currentVersionID.Valid {
			o.CurrentVersionID = &currentVersionID.String
		}
		out.Opportunities = append(out.Opportunities, o)
	}
	if err := oppRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate opportunities")
	}

	verRows, err := s.db.QueryContext(ctx,
		`SELECT id, opportunity_id, raw_artifact_id, version_no, data_json, evidence_json, created_at FROM opportunity_versions`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot versions")
	}
	defer verRows.Close()
	for verRows.Next() {
		var v model.OpportunityVersion
		var data, evidence string
		if err := verRows.Scan(&v.ID, &v.OpportunityID, &v.RawArtifactID, &v.VersionNo, &data, &evidence, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan version")
		}
		v.DataJSON = []byte(data)
		v.EvidenceJSON = []byte(evidence)
		out.OpportunityVersions = append(out.OpportunityVersions, v)
	}
	if err := verRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate versions")
	}

	srcRows, err := s.db.QueryContext(ctx, `SELECT source_id, display_name, crawlability, enabled, config_json FROM sources`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot sources")
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var src model.Source
		var enabled int
		var cfg string
		if err := srcRows.Scan(&src.SourceID, &src.DisplayName, &src.Crawlability, &enabled, &cfg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		src.Enabled = enabled != 0
		src.ConfigJSON = []byte(cfg)
		out.Sources = append(out.Sources, src)
	}
	if err := srcRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate sources")
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT key FROM tags ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot tags")
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var key string
		if err := tagRows.Scan(&key); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tag")
		}
		out.Tags = append(out.Tags, model.Tag{Key: key})
	}
	if err := tagRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate tags")
	}

	riskRows, err := s.db.QueryContext(ctx, `SELECT key FROM risk_flags ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot risk flags")
	}
	defer riskRows.Close()
	for riskRows.Next() {
		var key string
		if err := riskRows.Scan(&key); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan risk flag")
		}
		out.RiskFlags = append(out.RiskFlags, model.RiskFlag{Key: key})
	}
	return out, eris.Wrap(riskRows.Err(), "sqlite: iterate risk flags")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
