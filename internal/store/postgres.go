package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/rhof/internal/db"
	"github.com/sells-group/rhof/internal/model"
)

// PostgresStore implements Store against Postgres via pgx/v5. Intended
// for production runs where multiple processes might race on the same
// database; BeginFetchRun leans on a Postgres advisory lock rather
// than sqlite.go's plain row count, since only Postgres offers one.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig tunes the connection pool the same way the teacher's
// Postgres backend does.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

const fetchRunLockKey = 727_001

// NewPostgres opens a pool against connString and verifies connectivity.
func NewPostgres(ctx context.Context, connString string, poolCfg PoolConfig) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: new pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an already-constructed pool, used by tests
// to inject a pgxmock pool that satisfies db.Pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	source_id    TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	crawlability TEXT NOT NULL,
	enabled      BOOLEAN NOT NULL DEFAULT TRUE,
	config_json  JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS fetch_runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	status          TEXT NOT NULL,
	summary_json    JSONB NOT NULL DEFAULT '{}'::jsonb,
	source_ids_json JSONB NOT NULL DEFAULT '[]'::jsonb
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
	byte_size     BIGINT NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL,
	metadata_json JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS opportunities (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_id          TEXT NOT NULL REFERENCES sources(source_id),
	canonical_key      TEXT NOT NULL,
	apply_url          TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'active',
	first_seen_at      TIMESTAMPTZ NOT NULL,
	last_seen_at       TIMESTAMPTZ NOT NULL,
	current_version_id TEXT,
	UNIQUE(source_id, canonical_key)
);

CREATE TABLE IF NOT EXISTS opportunity_versions (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	opportunity_id  TEXT NOT NULL REFERENCES opportunities(id),
	raw_artifact_id TEXT NOT NULL,
	version_no      INTEGER NOT NULL,
	data_json       JSONB NOT NULL,
	evidence_json   JSONB NOT NULL,
	diff_json       JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
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
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	item_type        TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'open',
	dedup_cluster_id TEXT,
	opportunity_id   TEXT NOT NULL REFERENCES opportunities(id),
	payload_json     JSONB NOT NULL DEFAULT '{}'::jsonb,
	resolved_at      TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_review_items_open
	ON review_items(item_type, opportunity_id) WHERE status = 'open';

CREATE INDEX IF NOT EXISTS idx_raw_artifacts_fetch_run ON raw_artifacts(fetch_run_id);
CREATE INDEX IF NOT EXISTS idx_opportunity_versions_opp ON opportunity_versions(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_opportunities_source ON opportunities(source_id);
`

func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (p *PostgresStore) Close() error {
	if closer, ok := p.pool.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}

func (p *PostgresStore) UpsertSource(ctx context.Context, src model.Source) error {
	cfg := src.ConfigJSON
	if len(cfg) == 0 {
		cfg = []byte("{}")
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sources (source_id, display_name, crawlability, enabled, config_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id) DO UPDATE SET
			display_name = excluded.display_name,
			crawlability = excluded.crawlability,
			enabled = excluded.enabled,
			config_json = excluded.config_json`,
		src.SourceID, src.DisplayName, string(src.Crawlability), src.Enabled, cfg,
	)
	return eris.Wrapf(err, "postgres: upsert source %s", src.SourceID)
}

func (p *PostgresStore) BeginFetchRun(ctx context.Context, sourceIDs []string) (*model.FetchRun, error) {
	var acquired bool
	if err := p.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, fetchRunLockKey).Scan(&acquired); err != nil {
		return nil, eris.Wrap(err, "postgres: acquire fetch run lock")
	}
	if !acquired {
		return nil, eris.New("postgres: a fetch run is already in progress")
	}

	id := uuid.New().String()
	startedAt := now()
	sourceIDsJSON, err := json.Marshal(sourceIDs)
	if err != nil {
		_, _ = p.pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, fetchRunLockKey)
		return nil, eris.Wrap(err, "postgres: marshal source ids")
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO fetch_runs (id, started_at, status, source_ids_json) VALUES ($1, $2, $3, $4)`,
		id, startedAt, string(model.FetchRunStarted), sourceIDsJSON,
	)
	if err != nil {
		_, _ = p.pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, fetchRunLockKey)
		return nil, eris.Wrap(err, "postgres: insert fetch run")
	}
	return &model.FetchRun{ID: id, StartedAt: startedAt, Status: model.FetchRunStarted}, nil
}

func (p *PostgresStore) FinishFetchRun(ctx context.Context, runID string, status model.FetchRunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE fetch_runs SET status = $1, finished_at = $2, summary_json = $3 WHERE id = $4`,
		string(status), now(), summaryJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish fetch run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("fetch_run not found: %s", runID)
	}
	_, _ = p.pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, fetchRunLockKey)
	return nil
}

func (p *PostgresStore) InsertRawArtifact(ctx context.Context, a model.RawArtifact) error {
	meta := a.MetadataJSON
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO raw_artifacts
			(id, fetch_run_id, source_id, source_url, storage_path, content_type, content_hash, http_status, byte_size, fetched_at, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.FetchRunID, a.SourceID, a.SourceURL, a.StoragePath, a.ContentType, a.ContentHash, a.HTTPStatus, a.ByteSize, a.FetchedAt, meta,
	)
	return eris.Wrapf(err, "postgres: insert raw artifact %s", a.ID)
}

func (p *PostgresStore) CandidatesForDedup(ctx context.Context, sourceID string) ([]DedupCandidateRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT o.id, o.apply_url,
			COALESCE(v.data_json->>'title', ''),
			COALESCE(v.data_json->>'company', '')
		FROM opportunities o
		LEFT JOIN opportunity_versions v ON v.id = o.current_version_id
		WHERE o.source_id = $1`, sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: candidates for %s", sourceID)
	}
	defer rows.Close()

	var out []DedupCandidateRow
	for rows.Next() {
		var c DedupCandidateRow
		if err := rows.Scan(&c.OpportunityID, &c.ApplyURL, &c.Title, &c.Company); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dedup candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: candidates iterate")
}

func (p *PostgresStore) HasOpenReviewItem(ctx context.Context, opportunityID string) (bool, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_items WHERE opportunity_id = $1 AND item_type = 'dedup_review' AND status = 'open'`,
		opportunityID,
	).Scan(&n)
	return n > 0, eris.Wrap(err, "postgres: check open review item")
}

func (p *PostgresStore) PersistOpportunity(ctx context.Context, in PersistInput) (*PersistResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin persist tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d := in.Draft
	canonicalKey := model.CanonicalKey(d.SourceID, d.ApplyURL.Value, d.Title.Value, d.Company.Value)
	nowTS := now()

	var opportunityID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM opportunities WHERE source_id = $1 AND canonical_key = $2`,
		d.SourceID, canonicalKey,
	).Scan(&opportunityID)

	switch {
	case err == pgx.ErrNoRows:
		opportunityID = uuid.New().String()
		_, err = tx.Exec(ctx, `
			INSERT INTO opportunities (id, source_id, canonical_key, apply_url, status, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			opportunityID, d.SourceID, canonicalKey, d.ApplyURL.ValueOr(""), string(model.OpportunityActive), nowTS, nowTS,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert opportunity")
		}
	case err != nil:
		return nil, eris.Wrap(err, "postgres: lookup opportunity")
	default:
		_, err = tx.Exec(ctx,
			`UPDATE opportunities SET last_seen_at = $1, apply_url = $2 WHERE id = $3`,
			nowTS, d.ApplyURL.ValueOr(""), opportunityID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: update opportunity")
		}
	}

	var priorMax sql.NullInt64
	var priorData []byte
	err = tx.QueryRow(ctx, `
		SELECT version_no, data_json FROM opportunity_versions
		WHERE opportunity_id = $1 ORDER BY version_no DESC LIMIT 1`,
		opportunityID,
	).Scan(&priorMax, &priorData)
	if err != nil && err != pgx.ErrNoRows {
		return nil, eris.Wrap(err, "postgres: load latest version")
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
	newVersion := priorData == nil || !bytes.Equal(priorData, candidateData)
	result.NewVersion = newVersion
	result.VersionNo = int(priorMax.Int64)

	if newVersion {
		versionNo := int(priorMax.Int64) + 1
		versionID := uuid.New().String()
		_, err = tx.Exec(ctx, `
			INSERT INTO opportunity_versions (id, opportunity_id, raw_artifact_id, version_no, data_json, evidence_json, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			versionID, opportunityID, in.RawArtifactID, versionNo, candidateData, candidateEvidence, nowTS,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert version")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE opportunities SET current_version_id = $1 WHERE id = $2`,
			versionID, opportunityID,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: set current version")
		}
		result.VersionNo = versionNo
	}

	if err := replaceAssociationsPG(ctx, tx, opportunityID, in.TagKeys, in.RiskFlags); err != nil {
		return nil, err
	}

	if in.DedupOutcome == model.DedupReviewRequired {
		var openCount int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM review_items WHERE opportunity_id = $1 AND item_type = 'dedup_review' AND status = 'open'`,
			opportunityID,
		).Scan(&openCount); err != nil {
			return nil, eris.Wrap(err, "postgres: check open review item")
		}
		if openCount == 0 {
			payload := []byte("{}")
			if in.DedupPayload != nil {
				payload, err = json.Marshal(in.DedupPayload)
				if err != nil {
					return nil, eris.Wrap(err, "postgres: marshal review payload")
				}
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO review_items (item_type, status, opportunity_id, payload_json)
				VALUES ('dedup_review', 'open', $1, $2)`,
				opportunityID, payload,
			); err != nil {
				return nil, eris.Wrap(err, "postgres: insert review item")
			}
			result.ReviewOpened = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit persist tx")
	}
	return result, nil
}

// replaceAssociationsPG clears and rewrites an opportunity's tag/risk-flag
// links. The catalog rows (tags, risk_flags) are few and upserted one at a
// time; the join rows can run into the dozens per opportunity once rule
// evaluation (spec §4.5 step 5) tags a listing with several risk flags, so
// those go through db.CopyFrom's bulk COPY protocol instead of a per-row
// INSERT loop — the DELETE above already guarantees no conflicting rows
// remain, so a plain copy-in is safe without an ON CONFLICT clause.
func replaceAssociationsPG(ctx context.Context, tx pgx.Tx, opportunityID string, tagKeys []string, riskFlags []RiskFlagInput) error {
	if _, err := tx.Exec(ctx, `DELETE FROM opportunity_tags WHERE opportunity_id = $1`, opportunityID); err != nil {
		return eris.Wrap(err, "postgres: clear opportunity_tags")
	}
	if len(tagKeys) > 0 {
		for _, key := range tagKeys {
			if _, err := tx.Exec(ctx, `INSERT INTO tags (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key); err != nil {
				return eris.Wrapf(err, "postgres: upsert tag %s", key)
			}
		}
		rows := make([][]any, len(tagKeys))
		for i, key := range tagKeys {
			rows[i] = []any{opportunityID, key}
		}
		if _, err := db.CopyFrom(ctx, tx, "opportunity_tags", []string{"opportunity_id", "tag_key"}, rows); err != nil {
			return eris.Wrap(err, "postgres: bulk-insert opportunity_tags")
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM opportunity_risk_flags WHERE opportunity_id = $1`, opportunityID); err != nil {
		return eris.Wrap(err, "postgres: clear opportunity_risk_flags")
	}
	if len(riskFlags) > 0 {
		for _, rf := range riskFlags {
			if _, err := tx.Exec(ctx, `INSERT INTO risk_flags (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, rf.Key); err != nil {
				return eris.Wrapf(err, "postgres: upsert risk flag %s", rf.Key)
			}
		}
		rows := make([][]any, len(riskFlags))
		for i, rf := range riskFlags {
			rows[i] = []any{opportunityID, rf.Key, string(rf.Severity), rf.Reason}
		}
		if _, err := db.CopyFrom(ctx, tx, "opportunity_risk_flags", []string{"opportunity_id", "risk_flag_key", "severity", "reason"}, rows); err != nil {
			return eris.Wrap(err, "postgres: bulk-insert opportunity_risk_flags")
		}
	}
	return nil
}

func (p *PostgresStore) SnapshotTables(ctx context.Context) (*SnapshotData, error) {
	out := &SnapshotData{}

	oppRows, err := p.pool.Query(ctx,
		`SELECT id, source_id, canonical_key, apply_url, status, first_seen_at, last_seen_at, current_version_id FROM opportunities`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot opportunities")
	}
	defer oppRows.Close()
	for oppRows.Next() {
		var o model.Opportunity
		var currentVersionID *string
		if err := oppRows.Scan(&o.ID, &o.SourceID, &o.CanonicalKey, &o.ApplyURL, &o.Status, &o.FirstSeenAt, &o.LastSeenAt, &currentVersionID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		o.CurrentVersionID = currentVersionID
		out.Opportunities = append(out.Opportunities, o)
	}
	if err := oppRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate opportunities")
	}

	verRows, err := p.pool.Query(ctx,
		`SELECT id, opportunity_id, raw_artifact_id, version_no, data_json, evidence_json, created_at FROM opportunity_versions`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot versions")
	}
	defer verRows.Close()
	for verRows.Next() {
		var v model.OpportunityVersion
		if err := verRows.Scan(&v.ID, &v.OpportunityID, &v.RawArtifactID, &v.VersionNo, &v.DataJSON, &v.EvidenceJSON, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan version")
		}
		out.OpportunityVersions = append(out.OpportunityVersions, v)
	}
	if err := verRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate versions")
	}

	srcRows, err := p.pool.Query(ctx, `SELECT source_id, display_name, crawlability, enabled, config_json FROM sources`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot sources")
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var src model.Source
		if err := srcRows.Scan(&src.SourceID, &src.DisplayName, &src.Crawlability, &src.Enabled, &src.ConfigJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out.Sources = append(out.Sources, src)
	}
	if err := srcRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate sources")
	}

	tagRows, err := p.pool.Query(ctx, `SELECT key FROM tags ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot tags")
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var key string
		if err := tagRows.Scan(&key); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tag")
		}
		out.Tags = append(out.Tags, model.Tag{Key: key})
	}
	if err := tagRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate tags")
	}

	riskRows, err := p.pool.Query(ctx, `SELECT key FROM risk_flags ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot risk flags")
	}
	defer riskRows.Close()
	for riskRows.Next() {
		var key string
		if err := riskRows.Scan(&key); err != nil {
			return nil, eris.Wrap(err, "postgres: scan risk flag")
		}
		out.RiskFlags = append(out.RiskFlags, model.RiskFlag{Key: key})
	}
	return out, eris.Wrap(riskRows.Err(), "postgres: iterate risk flags")
}
