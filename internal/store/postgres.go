package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/pagemill/governor/internal/db"
	"github.com/pagemill/governor/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., the audit recorder's batch writer).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS artifacts (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	site_id            TEXT NOT NULL,
	silo_id            TEXT NOT NULL,
	path               TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	headline           TEXT NOT NULL DEFAULT '',
	body               TEXT NOT NULL DEFAULT '',
	meta_description   TEXT NOT NULL DEFAULT '',
	target_keyword     TEXT NOT NULL DEFAULT '',
	sections           JSONB NOT NULL DEFAULT '{}',
	embedding          JSONB,
	authority_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	source_urls        JSONB NOT NULL DEFAULT '[]',
	author_attribution TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'draft',
	governance_checks  JSONB NOT NULL DEFAULT '{}',
	redirect_to        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT artifacts_site_path_key UNIQUE (site_id, path)
);

CREATE UNIQUE INDEX IF NOT EXISTS artifacts_site_keyword_key
	ON artifacts(site_id, target_keyword) WHERE target_keyword <> '';

CREATE INDEX IF NOT EXISTS idx_artifacts_site ON artifacts(site_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_silo ON artifacts(silo_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);

CREATE TABLE IF NOT EXISTS silos (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	site_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	topic      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT silos_site_name_key UNIQUE (site_id, name)
);

CREATE INDEX IF NOT EXISTS idx_silos_site ON silos(site_id);

CREATE TABLE IF NOT EXISTS jobs (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	artifact_id          TEXT NOT NULL REFERENCES artifacts(id),
	state                TEXT NOT NULL DEFAULT 'draft',
	retry_count          INTEGER NOT NULL DEFAULT 0,
	max_retries          INTEGER NOT NULL DEFAULT 3,
	accumulated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 10.0,
	last_error_code      TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_artifact
	ON jobs(artifact_id)
	WHERE state NOT IN ('completed', 'failed', 'ai_max_retry_exceeded');

CREATE INDEX IF NOT EXISTS idx_jobs_artifact ON jobs(artifact_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);

CREATE TABLE IF NOT EXISTS gate_results (
	artifact_id TEXT NOT NULL,
	gate        TEXT NOT NULL,
	passed      BOOLEAN NOT NULL,
	error_code  TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	checked_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (artifact_id, gate)
);

CREATE INDEX IF NOT EXISTS idx_gate_results_checked ON gate_results(checked_at);

CREATE TABLE IF NOT EXISTS audit_events (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	ts           TIMESTAMPTZ NOT NULL DEFAULT now(),
	actor        TEXT NOT NULL DEFAULT '',
	event_type   TEXT NOT NULL,
	artifact_id  TEXT NOT NULL DEFAULT '',
	job_id       TEXT NOT NULL DEFAULT '',
	inputs       JSONB NOT NULL DEFAULT '{}',
	outcome      TEXT NOT NULL DEFAULT '',
	error_code   TEXT NOT NULL DEFAULT '',
	detail       TEXT NOT NULL DEFAULT '',
	payload_hash TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_artifact ON audit_events(artifact_id);
CREATE INDEX IF NOT EXISTS idx_audit_job ON audit_events(job_id);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const artifactColumns = `id, site_id, silo_id, path, title, headline, body, meta_description,
	target_keyword, sections, embedding, authority_score, source_urls, author_attribution,
	status, governance_checks, redirect_to, created_at, updated_at`

func (s *PostgresStore) CreateArtifact(ctx context.Context, a *model.Artifact) (*model.Artifact, error) {
	out := *a
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.Path = model.NormalizePath(out.Path)
	if out.Status == "" {
		out.Status = model.StatusDraft
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	sectionsJSON, embeddingJSON, sourcesJSON, checksJSON, err := marshalArtifactJSON(&out)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO artifacts (`+artifactColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		out.ID, out.SiteID, out.SiloID, out.Path, out.Title, out.Headline, out.Body,
		out.MetaDescription, out.TargetKeyword, sectionsJSON, embeddingJSON,
		out.AuthorityScore, sourcesJSON, out.AuthorAttribution, string(out.Status),
		checksJSON, out.RedirectTo, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(mapConstraintErr(err), "postgres: insert artifact")
	}
	return &out, nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewStructural(model.CodeArtifactNotFound, fmt.Sprintf("artifact %s does not exist", id))
		}
		return nil, eris.Wrapf(err, "postgres: get artifact %s", id)
	}
	return a, nil
}

func (s *PostgresStore) UpdateArtifact(ctx context.Context, a *model.Artifact) error {
	a.Path = model.NormalizePath(a.Path)
	a.UpdatedAt = time.Now().UTC()

	sectionsJSON, embeddingJSON, sourcesJSON, checksJSON, err := marshalArtifactJSON(a)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET silo_id = $1, path = $2, title = $3, headline = $4, body = $5,
		 meta_description = $6, target_keyword = $7, sections = $8, embedding = $9,
		 authority_score = $10, source_urls = $11, author_attribution = $12, status = $13,
		 governance_checks = $14, redirect_to = $15, updated_at = $16
		 WHERE id = $17`,
		a.SiloID, a.Path, a.Title, a.Headline, a.Body, a.MetaDescription, a.TargetKeyword,
		sectionsJSON, embeddingJSON, a.AuthorityScore, sourcesJSON, a.AuthorAttribution,
		string(a.Status), checksJSON, a.RedirectTo, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return eris.Wrapf(mapConstraintErr(err), "postgres: update artifact %s", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return model.NewStructural(model.CodeArtifactNotFound, fmt.Sprintf("artifact %s does not exist", a.ID))
	}
	return nil
}

func (s *PostgresStore) ListArtifactsBySite(ctx context.Context, siteID string) ([]model.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE site_id = $1 ORDER BY created_at`, siteID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}

func (s *PostgresStore) DeleteOrphanArtifacts(ctx context.Context, siteID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM artifacts
		 WHERE site_id = $1 AND status = 'draft'
		 AND silo_id NOT IN (SELECT id FROM silos WHERE site_id = $1)`,
		siteID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete orphan artifacts")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReservePath(ctx context.Context, siteID, path, excludeArtifactID string) error {
	normalized := model.NormalizePath(path)
	var existing string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM artifacts WHERE site_id = $1 AND path = $2 AND id <> $3`,
		siteID, normalized, excludeArtifactID,
	).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return eris.Wrap(err, "postgres: reserve path")
	}
	return model.NewStructural(model.CodePathNotUnique,
		fmt.Sprintf("path %s is held by artifact %s", normalized, existing))
}

func (s *PostgresStore) BindKeyword(ctx context.Context, artifactID, keyword string) error {
	// A bound keyword is immutable: the update only applies when the slot is
	// empty or already holds the same keyword.
	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET target_keyword = $1, updated_at = now()
		 WHERE id = $2 AND (target_keyword = '' OR target_keyword = $1)`,
		keyword, artifactID,
	)
	if err != nil {
		return eris.Wrapf(mapConstraintErr(err), "postgres: bind keyword for %s", artifactID)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx,
			`SELECT target_keyword FROM artifacts WHERE id = $1`, artifactID,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.NewStructural(model.CodeArtifactNotFound, fmt.Sprintf("artifact %s does not exist", artifactID))
			}
			return eris.Wrap(err, "postgres: bind keyword probe")
		}
		return model.NewStructural(model.CodeKeywordRebid,
			fmt.Sprintf("artifact %s is already bound to keyword %q", artifactID, current))
	}
	return nil
}

func (s *PostgresStore) CountSilos(ctx context.Context, siteID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM silos WHERE site_id = $1`, siteID,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count silos")
}

func (s *PostgresStore) CreateSilo(ctx context.Context, silo *model.Silo) (*model.Silo, error) {
	out := *silo
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.CreatedAt = time.Now().UTC()

	// Single-statement arity check: insertion only happens while the site is
	// below the ceiling, so a concurrent 8th insert loses the race atomically.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO silos (id, site_id, name, topic, created_at)
		 SELECT $1, $2, $3, $4, $5
		 WHERE (SELECT COUNT(*) FROM silos WHERE site_id = $2) < $6`,
		out.ID, out.SiteID, out.Name, out.Topic, out.CreatedAt, model.MaxSilosPerSite,
	)
	if err != nil {
		return nil, eris.Wrap(mapConstraintErr(err), "postgres: insert silo")
	}
	if tag.RowsAffected() == 0 {
		return nil, model.NewStructural(model.CodeSiloLimitExceeded,
			fmt.Sprintf("site %s already holds %d silos", out.SiteID, model.MaxSilosPerSite))
	}
	return &out, nil
}

func (s *PostgresStore) DeleteSilo(ctx context.Context, id string) error {
	// Shrinking below the floor is rejected in the same statement that
	// deletes, so two concurrent deletes cannot both succeed past it.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM silos WHERE id = $1
		 AND (SELECT COUNT(*) FROM silos
		      WHERE site_id = (SELECT site_id FROM silos WHERE id = $1)) > $2`,
		id, model.MinSilosPerSite,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete silo %s", id)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM silos WHERE id = $1)`, id,
		).Scan(&exists)
		if err != nil {
			return eris.Wrap(err, "postgres: delete silo probe")
		}
		if !exists {
			return model.NewStructural(model.CodeSiloNotFound, fmt.Sprintf("silo %s does not exist", id))
		}
		return model.NewStructural(model.CodeSiloMinimumRequired,
			fmt.Sprintf("deleting silo %s would leave the site below %d silos", id, model.MinSilosPerSite))
	}
	return nil
}

func (s *PostgresStore) ListSilos(ctx context.Context, siteID string) ([]model.Silo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, site_id, name, topic, created_at FROM silos WHERE site_id = $1 ORDER BY created_at`,
		siteID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list silos")
	}
	defer rows.Close()

	var out []model.Silo
	for rows.Next() {
		var silo model.Silo
		if err := rows.Scan(&silo.ID, &silo.SiteID, &silo.Name, &silo.Topic, &silo.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan silo")
		}
		out = append(out, silo)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list silos iterate")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.GenerationJob) (*model.GenerationJob, error) {
	out := *job
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.State == "" {
		out.State = model.JobStateDraft
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = model.DefaultMaxRetries
	}
	if out.MaxCostUSD <= 0 {
		out.MaxCostUSD = model.DefaultMaxCostUSD
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, artifact_id, state, retry_count, max_retries,
		 accumulated_cost_usd, max_cost_usd, last_error_code, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		out.ID, out.ArtifactID, string(out.State), out.RetryCount, out.MaxRetries,
		out.AccumulatedCostUSD, out.MaxCostUSD, out.LastErrorCode, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(mapConstraintErr(err), "postgres: insert job")
	}
	return &out, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.GenerationJob, error) {
	var j model.GenerationJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, artifact_id, state, retry_count, max_retries, accumulated_cost_usd,
		 max_cost_usd, last_error_code, created_at, updated_at FROM jobs WHERE id = $1`,
		id,
	).Scan(&j.ID, &j.ArtifactID, &j.State, &j.RetryCount, &j.MaxRetries,
		&j.AccumulatedCostUSD, &j.MaxCostUSD, &j.LastErrorCode, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewState(model.CodeJobNotFound, fmt.Sprintf("job %s does not exist", id))
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.GenerationJob) error {
	job.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, retry_count = $2, accumulated_cost_usd = $3,
		 last_error_code = $4, updated_at = $5 WHERE id = $6`,
		string(job.State), job.RetryCount, job.AccumulatedCostUSD,
		job.LastErrorCode, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return model.NewState(model.CodeJobNotFound, fmt.Sprintf("job %s does not exist", job.ID))
	}
	return nil
}

func (s *PostgresStore) ListJobsByArtifact(ctx context.Context, artifactID string) ([]model.GenerationJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, artifact_id, state, retry_count, max_retries, accumulated_cost_usd,
		 max_cost_usd, last_error_code, created_at, updated_at FROM jobs
		 WHERE artifact_id = $1 ORDER BY created_at DESC`,
		artifactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var out []model.GenerationJob
	for rows.Next() {
		var j model.GenerationJob
		if err := rows.Scan(&j.ID, &j.ArtifactID, &j.State, &j.RetryCount, &j.MaxRetries,
			&j.AccumulatedCostUSD, &j.MaxCostUSD, &j.LastErrorCode, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) JobStatsSince(ctx context.Context, since time.Time) (*JobStats, error) {
	stats := &JobStats{
		ByState:       make(map[model.JobState]int),
		LookbackSince: since,
	}

	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*), COALESCE(SUM(accumulated_cost_usd), 0)
		 FROM jobs WHERE created_at >= $1 GROUP BY state`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: job stats")
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		var cost float64
		if err := rows.Scan(&state, &count, &cost); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job stats")
		}
		stats.ByState[model.JobState(state)] = count
		stats.TotalCostUSD += cost
	}
	return stats, eris.Wrap(rows.Err(), "postgres: job stats iterate")
}

func (s *PostgresStore) SaveGateResults(ctx context.Context, artifactID string, results []model.GateResult) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		rows = append(rows, []any{artifactID, r.Gate, r.Passed, r.ErrorCode, r.Detail, r.CheckedAt})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "gate_results",
		Columns:      []string{"artifact_id", "gate", "passed", "error_code", "detail", "checked_at"},
		ConflictKeys: []string{"artifact_id", "gate"},
	}, rows)
	return eris.Wrapf(err, "postgres: save gate results for %s", artifactID)
}

func (s *PostgresStore) GetGateResults(ctx context.Context, artifactID string) ([]model.GateResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT gate, passed, error_code, detail, checked_at FROM gate_results
		 WHERE artifact_id = $1 ORDER BY gate`,
		artifactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get gate results")
	}
	defer rows.Close()

	var out []model.GateResult
	for rows.Next() {
		var r model.GateResult
		if err := rows.Scan(&r.Gate, &r.Passed, &r.ErrorCode, &r.Detail, &r.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan gate result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get gate results iterate")
}

func (s *PostgresStore) DeleteStaleGateResults(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM gate_results WHERE checked_at < $1`, olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete stale gate results")
	}
	return int(tag.RowsAffected()), nil
}

var auditColumns = []string{
	"id", "ts", "actor", "event_type", "artifact_id", "job_id",
	"inputs", "outcome", "error_code", "detail", "payload_hash",
}

func (s *PostgresStore) AppendAuditEvents(ctx context.Context, events []model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		inputsJSON, err := json.Marshal(e.Inputs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit inputs")
		}
		rows = append(rows, []any{
			e.ID, e.Timestamp, e.Actor, string(e.EventType), e.ArtifactID, e.JobID,
			inputsJSON, e.Outcome, e.ErrorCode, e.Detail, e.PayloadHash,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "audit_events", auditColumns, rows)
	return eris.Wrap(err, "postgres: append audit events")
}

func (s *PostgresStore) ListAuditByArtifact(ctx context.Context, artifactID string, filter AuditFilter) ([]model.AuditEvent, error) {
	return s.listAudit(ctx, "artifact_id", artifactID, filter)
}

func (s *PostgresStore) ListAuditByJob(ctx context.Context, jobID string, filter AuditFilter) ([]model.AuditEvent, error) {
	return s.listAudit(ctx, "job_id", jobID, filter)
}

func (s *PostgresStore) listAudit(ctx context.Context, keyCol, keyVal string, filter AuditFilter) ([]model.AuditEvent, error) {
	query := fmt.Sprintf(
		`SELECT id, ts, actor, event_type, artifact_id, job_id, inputs, outcome, error_code, detail, payload_hash
		 FROM audit_events WHERE %s = $1`, keyCol)
	args := []any{keyVal}
	argIdx := 2

	if filter.EventType != "" {
		query += fmt.Sprintf(` AND event_type = $%d`, argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND ts >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += ` ORDER BY ts`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit events")
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var inputsJSON []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.EventType, &e.ArtifactID,
			&e.JobID, &inputsJSON, &e.Outcome, &e.ErrorCode, &e.Detail, &e.PayloadHash); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit event")
		}
		if len(inputsJSON) > 0 {
			if err := json.Unmarshal(inputsJSON, &e.Inputs); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal audit inputs")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit events iterate")
}

func (s *PostgresStore) CountAuditSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE ts >= $1`, since,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count audit events")
}

// marshalArtifactJSON encodes the JSONB columns of an artifact row.
func marshalArtifactJSON(a *model.Artifact) (sections, embedding, sources, checks []byte, err error) {
	sections, err = json.Marshal(a.Sections)
	if err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal sections")
	}
	if a.Embedding != nil {
		embedding, err = json.Marshal(a.Embedding)
		if err != nil {
			return nil, nil, nil, nil, eris.Wrap(err, "store: marshal embedding")
		}
	}
	srcs := a.SourceURLs
	if srcs == nil {
		srcs = []string{}
	}
	sources, err = json.Marshal(srcs)
	if err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal source urls")
	}
	gc := a.GovernanceChecks
	if gc == nil {
		gc = map[string]model.CheckOutcome{}
	}
	checks, err = json.Marshal(gc)
	if err != nil {
		return nil, nil, nil, nil, eris.Wrap(err, "store: marshal governance checks")
	}
	return sections, embedding, sources, checks, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*model.Artifact, error) {
	var a model.Artifact
	var sectionsJSON, sourcesJSON, checksJSON []byte
	var embeddingJSON *[]byte
	var status string

	err := row.Scan(&a.ID, &a.SiteID, &a.SiloID, &a.Path, &a.Title, &a.Headline, &a.Body,
		&a.MetaDescription, &a.TargetKeyword, &sectionsJSON, &embeddingJSON,
		&a.AuthorityScore, &sourcesJSON, &a.AuthorAttribution, &status,
		&checksJSON, &a.RedirectTo, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = model.ArtifactStatus(status)

	if err := json.Unmarshal(sectionsJSON, &a.Sections); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal sections")
	}
	if embeddingJSON != nil && len(*embeddingJSON) > 0 {
		if err := json.Unmarshal(*embeddingJSON, &a.Embedding); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal embedding")
		}
	}
	if err := json.Unmarshal(sourcesJSON, &a.SourceURLs); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal source urls")
	}
	if err := json.Unmarshal(checksJSON, &a.GovernanceChecks); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal governance checks")
	}
	return &a, nil
}
