package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pagemill/governor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It enforces the same
// structural constraints as the Postgres schema, so either driver can back
// the engine.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS artifacts (
	id                 TEXT PRIMARY KEY,
	site_id            TEXT NOT NULL,
	silo_id            TEXT NOT NULL,
	path               TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	headline           TEXT NOT NULL DEFAULT '',
	body               TEXT NOT NULL DEFAULT '',
	meta_description   TEXT NOT NULL DEFAULT '',
	target_keyword     TEXT NOT NULL DEFAULT '',
	sections           TEXT NOT NULL DEFAULT '{}',
	embedding          TEXT,
	authority_score    REAL NOT NULL DEFAULT 0,
	source_urls        TEXT NOT NULL DEFAULT '[]',
	author_attribution TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'draft',
	governance_checks  TEXT NOT NULL DEFAULT '{}',
	redirect_to        TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS artifacts_site_path_key ON artifacts(site_id, path);
CREATE UNIQUE INDEX IF NOT EXISTS artifacts_site_keyword_key
	ON artifacts(site_id, target_keyword) WHERE target_keyword <> '';
CREATE INDEX IF NOT EXISTS idx_artifacts_site ON artifacts(site_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_status ON artifacts(status);

CREATE TABLE IF NOT EXISTS silos (
	id         TEXT PRIMARY KEY,
	site_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	topic      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS silos_site_name_key ON silos(site_id, name);
CREATE INDEX IF NOT EXISTS idx_silos_site ON silos(site_id);

CREATE TABLE IF NOT EXISTS jobs (
	id                   TEXT PRIMARY KEY,
	artifact_id          TEXT NOT NULL REFERENCES artifacts(id),
	state                TEXT NOT NULL DEFAULT 'draft',
	retry_count          INTEGER NOT NULL DEFAULT 0,
	max_retries          INTEGER NOT NULL DEFAULT 3,
	accumulated_cost_usd REAL NOT NULL DEFAULT 0,
	max_cost_usd         REAL NOT NULL DEFAULT 10.0,
	last_error_code      TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_artifact
	ON jobs(artifact_id)
	WHERE state NOT IN ('completed', 'failed', 'ai_max_retry_exceeded');
CREATE INDEX IF NOT EXISTS idx_jobs_artifact ON jobs(artifact_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);

CREATE TABLE IF NOT EXISTS gate_results (
	artifact_id TEXT NOT NULL,
	gate        TEXT NOT NULL,
	passed      INTEGER NOT NULL,
	error_code  TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	checked_at  DATETIME NOT NULL,
	PRIMARY KEY (artifact_id, gate)
);

CREATE INDEX IF NOT EXISTS idx_gate_results_checked ON gate_results(checked_at);

CREATE TABLE IF NOT EXISTS audit_events (
	id           TEXT PRIMARY KEY,
	ts           DATETIME NOT NULL,
	actor        TEXT NOT NULL DEFAULT '',
	event_type   TEXT NOT NULL,
	artifact_id  TEXT NOT NULL DEFAULT '',
	job_id       TEXT NOT NULL DEFAULT '',
	inputs       TEXT NOT NULL DEFAULT '{}',
	outcome      TEXT NOT NULL DEFAULT '',
	error_code   TEXT NOT NULL DEFAULT '',
	detail       TEXT NOT NULL DEFAULT '',
	payload_hash TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_artifact ON audit_events(artifact_id);
CREATE INDEX IF NOT EXISTS idx_audit_job ON audit_events(job_id);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateArtifact(ctx context.Context, a *model.Artifact) (*model.Artifact, error) {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, site_id, silo_id, path, title, headline, body,
		 meta_description, target_keyword, sections, embedding, authority_score,
		 source_urls, author_attribution, status, governance_checks, redirect_to,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.SiteID, out.SiloID, out.Path, out.Title, out.Headline, out.Body,
		out.MetaDescription, out.TargetKeyword, string(sectionsJSON), nullableJSON(embeddingJSON),
		out.AuthorityScore, string(sourcesJSON), out.AuthorAttribution, string(out.Status),
		string(checksJSON), out.RedirectTo, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(mapConstraintErr(err), "sqlite: insert artifact")
	}
	return &out, nil
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, site_id, silo_id, path, title, headline, body, meta_description,
		 target_keyword, sections, embedding, authority_score, source_urls,
		 author_attribution, status, governance_checks, redirect_to, created_at, updated_at
		 FROM artifacts WHERE id = ?`, id)
	a, err := scanSQLiteArtifact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewStructural(model.CodeArtifactNotFound, fmt.Sprintf("artifact %s does not exist", id))
		}
		return nil, eris.Wrapf(err, "sqlite: get artifact %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) UpdateArtifact(ctx context.Context, a *model.Artifact) error {
	a.Path = model.NormalizePath(a.Path)
	a.UpdatedAt = time.Now().UTC()

	sectionsJSON, embeddingJSON, sourcesJSON, checksJSON, err := marshalArtifactJSON(a)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET silo_id = ?, path = ?, title = ?, headline = ?, body = ?,
		 meta_description = ?, target_keyword = ?, sections = ?, embedding = ?,
		 authority_score = ?, source_urls = ?, author_attribution = ?, status = ?,
		 governance_checks = ?, redirect_to = ?, updated_at = ?
		 WHERE id = ?`,
		a.SiloID, a.Path, a.Title, a.Headline, a.Body, a.MetaDescription, a.TargetKeyword,
		string(sectionsJSON), nullableJSON(embeddingJSON), a.AuthorityScore, string(sourcesJSON),
		a.AuthorAttribution, string(a.Status), string(checksJSON), a.RedirectTo, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return eris.Wrapf(mapConstraintErr(err), "sqlite: update artifact %s", a.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return model.NewStructural(model.CodeArtifactNotFound, fmt.Sprintf("artifact %s does not exist", a.ID))
	}
	return nil
}

func (s *SQLiteStore) ListArtifactsBySite(ctx context.Context, siteID string) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, site_id, silo_id, path, title, headline, body, meta_description,
		 target_keyword, sections, embedding, authority_score, source_urls,
		 author_attribution, status, governance_checks, redirect_to, created_at, updated_at
		 FROM artifacts WHERE site_id = ? ORDER BY created_at`, siteID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		a, err := scanSQLiteArtifact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

func (s *SQLiteStore) DeleteOrphanArtifacts(ctx context.Context, siteID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts
		 WHERE site_id = ? AND status = 'draft'
		 AND silo_id NOT IN (SELECT id FROM silos WHERE site_id = ?)`,
		siteID, siteID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete orphan artifacts")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ReservePath(ctx context.Context, siteID, path, excludeArtifactID string) error {
	normalized := model.NormalizePath(path)
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM artifacts WHERE site_id = ? AND path = ? AND id <> ?`,
		siteID, normalized, excludeArtifactID,
	).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return eris.Wrap(err, "sqlite: reserve path")
	}
	return model.NewStructural(model.CodePathNotUnique,
		fmt.Sprintf("path %s is held by artifact %s", normalized, existing))
}

func (s *SQLiteStore) BindKeyword(ctx context.Context, artifactID, keyword string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET target_keyword = ?, updated_at = ?
		 WHERE id = ? AND (target_keyword = '' OR target_keyword = ?)`,
		keyword, time.Now().UTC(), artifactID, keyword,
	)
	if err != nil {
		return eris.Wrapf(mapConstraintErr(err), "sqlite: bind keyword for %s", artifactID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT target_keyword FROM artifacts WHERE id = ?`, artifactID,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.NewStructural(model.CodeArtifactNotFound, fmt.Sprintf("artifact %s does not exist", artifactID))
			}
			return eris.Wrap(err, "sqlite: bind keyword probe")
		}
		return model.NewStructural(model.CodeKeywordRebid,
			fmt.Sprintf("artifact %s is already bound to keyword %q", artifactID, current))
	}
	return nil
}

func (s *SQLiteStore) CountSilos(ctx context.Context, siteID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM silos WHERE site_id = ?`, siteID,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count silos")
}

func (s *SQLiteStore) CreateSilo(ctx context.Context, silo *model.Silo) (*model.Silo, error) {
	out := *silo
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO silos (id, site_id, name, topic, created_at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE (SELECT COUNT(*) FROM silos WHERE site_id = ?) < ?`,
		out.ID, out.SiteID, out.Name, out.Topic, out.CreatedAt, out.SiteID, model.MaxSilosPerSite,
	)
	if err != nil {
		return nil, eris.Wrap(mapConstraintErr(err), "sqlite: insert silo")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, model.NewStructural(model.CodeSiloLimitExceeded,
			fmt.Sprintf("site %s already holds %d silos", out.SiteID, model.MaxSilosPerSite))
	}
	return &out, nil
}

func (s *SQLiteStore) DeleteSilo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM silos WHERE id = ?
		 AND (SELECT COUNT(*) FROM silos
		      WHERE site_id = (SELECT site_id FROM silos WHERE id = ?)) > ?`,
		id, id, model.MinSilosPerSite,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete silo %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM silos WHERE id = ?)`, id,
		).Scan(&exists)
		if err != nil {
			return eris.Wrap(err, "sqlite: delete silo probe")
		}
		if !exists {
			return model.NewStructural(model.CodeSiloNotFound, fmt.Sprintf("silo %s does not exist", id))
		}
		return model.NewStructural(model.CodeSiloMinimumRequired,
			fmt.Sprintf("deleting silo %s would leave the site below %d silos", id, model.MinSilosPerSite))
	}
	return nil
}

func (s *SQLiteStore) ListSilos(ctx context.Context, siteID string) ([]model.Silo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, site_id, name, topic, created_at FROM silos WHERE site_id = ? ORDER BY created_at`,
		siteID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list silos")
	}
	defer rows.Close()

	var out []model.Silo
	for rows.Next() {
		var silo model.Silo
		if err := rows.Scan(&silo.ID, &silo.SiteID, &silo.Name, &silo.Topic, &silo.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan silo")
		}
		out = append(out, silo)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list silos iterate")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.GenerationJob) (*model.GenerationJob, error) {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, artifact_id, state, retry_count, max_retries,
		 accumulated_cost_usd, max_cost_usd, last_error_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.ArtifactID, string(out.State), out.RetryCount, out.MaxRetries,
		out.AccumulatedCostUSD, out.MaxCostUSD, out.LastErrorCode, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(mapConstraintErr(err), "sqlite: insert job")
	}
	return &out, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.GenerationJob, error) {
	var j model.GenerationJob
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, artifact_id, state, retry_count, max_retries, accumulated_cost_usd,
		 max_cost_usd, last_error_code, created_at, updated_at FROM jobs WHERE id = ?`,
		id,
	).Scan(&j.ID, &j.ArtifactID, &state, &j.RetryCount, &j.MaxRetries,
		&j.AccumulatedCostUSD, &j.MaxCostUSD, &j.LastErrorCode, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewState(model.CodeJobNotFound, fmt.Sprintf("job %s does not exist", id))
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	j.State = model.JobState(state)
	return &j, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.GenerationJob) error {
	job.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, retry_count = ?, accumulated_cost_usd = ?,
		 last_error_code = ?, updated_at = ? WHERE id = ?`,
		string(job.State), job.RetryCount, job.AccumulatedCostUSD,
		job.LastErrorCode, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return model.NewState(model.CodeJobNotFound, fmt.Sprintf("job %s does not exist", job.ID))
	}
	return nil
}

func (s *SQLiteStore) ListJobsByArtifact(ctx context.Context, artifactID string) ([]model.GenerationJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, artifact_id, state, retry_count, max_retries, accumulated_cost_usd,
		 max_cost_usd, last_error_code, created_at, updated_at FROM jobs
		 WHERE artifact_id = ? ORDER BY created_at DESC`,
		artifactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var out []model.GenerationJob
	for rows.Next() {
		var j model.GenerationJob
		var state string
		if err := rows.Scan(&j.ID, &j.ArtifactID, &state, &j.RetryCount, &j.MaxRetries,
			&j.AccumulatedCostUSD, &j.MaxCostUSD, &j.LastErrorCode, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		j.State = model.JobState(state)
		out = append(out, j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) JobStatsSince(ctx context.Context, since time.Time) (*JobStats, error) {
	stats := &JobStats{
		ByState:       make(map[model.JobState]int),
		LookbackSince: since,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*), COALESCE(SUM(accumulated_cost_usd), 0)
		 FROM jobs WHERE created_at >= ? GROUP BY state`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: job stats")
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		var cost float64
		if err := rows.Scan(&state, &count, &cost); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job stats")
		}
		stats.ByState[model.JobState(state)] = count
		stats.TotalCostUSD += cost
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: job stats iterate")
}

func (s *SQLiteStore) SaveGateResults(ctx context.Context, artifactID string, results []model.GateResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin gate results tx")
	}
	defer tx.Rollback()

	for _, r := range results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO gate_results (artifact_id, gate, passed, error_code, detail, checked_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (artifact_id, gate) DO UPDATE SET
			   passed = excluded.passed, error_code = excluded.error_code,
			   detail = excluded.detail, checked_at = excluded.checked_at`,
			artifactID, r.Gate, r.Passed, r.ErrorCode, r.Detail, r.CheckedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert gate result %s", r.Gate)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit gate results")
}

func (s *SQLiteStore) GetGateResults(ctx context.Context, artifactID string) ([]model.GateResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gate, passed, error_code, detail, checked_at FROM gate_results
		 WHERE artifact_id = ? ORDER BY gate`,
		artifactID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get gate results")
	}
	defer rows.Close()

	var out []model.GateResult
	for rows.Next() {
		var r model.GateResult
		if err := rows.Scan(&r.Gate, &r.Passed, &r.ErrorCode, &r.Detail, &r.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan gate result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get gate results iterate")
}

func (s *SQLiteStore) DeleteStaleGateResults(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM gate_results WHERE checked_at < ?`, olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete stale gate results")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) AppendAuditEvents(ctx context.Context, events []model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin audit tx")
	}
	defer tx.Rollback()

	for _, e := range events {
		inputsJSON, err := json.Marshal(e.Inputs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit inputs")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO audit_events (id, ts, actor, event_type, artifact_id, job_id,
			 inputs, outcome, error_code, detail, payload_hash)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Timestamp, e.Actor, string(e.EventType), e.ArtifactID, e.JobID,
			string(inputsJSON), e.Outcome, e.ErrorCode, e.Detail, e.PayloadHash,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert audit event")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit audit events")
}

func (s *SQLiteStore) ListAuditByArtifact(ctx context.Context, artifactID string, filter AuditFilter) ([]model.AuditEvent, error) {
	return s.listAudit(ctx, "artifact_id", artifactID, filter)
}

func (s *SQLiteStore) ListAuditByJob(ctx context.Context, jobID string, filter AuditFilter) ([]model.AuditEvent, error) {
	return s.listAudit(ctx, "job_id", jobID, filter)
}

func (s *SQLiteStore) listAudit(ctx context.Context, keyCol, keyVal string, filter AuditFilter) ([]model.AuditEvent, error) {
	query := fmt.Sprintf(
		`SELECT id, ts, actor, event_type, artifact_id, job_id, inputs, outcome, error_code, detail, payload_hash
		 FROM audit_events WHERE %s = ?`, keyCol)
	args := []any{keyVal}

	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if !filter.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY ts`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit events")
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var eventType, inputsJSON string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &eventType, &e.ArtifactID,
			&e.JobID, &inputsJSON, &e.Outcome, &e.ErrorCode, &e.Detail, &e.PayloadHash); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit event")
		}
		e.EventType = model.AuditEventType(eventType)
		if inputsJSON != "" {
			if err := json.Unmarshal([]byte(inputsJSON), &e.Inputs); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal audit inputs")
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit events iterate")
}

func (s *SQLiteStore) CountAuditSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE ts >= ?`, since,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count audit events")
}

// nullableJSON converts an empty JSON buffer to NULL for driver storage.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func scanSQLiteArtifact(row rowScanner) (*model.Artifact, error) {
	var a model.Artifact
	var sectionsJSON, sourcesJSON, checksJSON, status string
	var embeddingJSON sql.NullString

	err := row.Scan(&a.ID, &a.SiteID, &a.SiloID, &a.Path, &a.Title, &a.Headline, &a.Body,
		&a.MetaDescription, &a.TargetKeyword, &sectionsJSON, &embeddingJSON,
		&a.AuthorityScore, &sourcesJSON, &a.AuthorAttribution, &status,
		&checksJSON, &a.RedirectTo, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = model.ArtifactStatus(status)

	if err := json.Unmarshal([]byte(sectionsJSON), &a.Sections); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal sections")
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &a.Embedding); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal embedding")
		}
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &a.SourceURLs); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal source urls")
	}
	if err := json.Unmarshal([]byte(checksJSON), &a.GovernanceChecks); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal governance checks")
	}
	return &a, nil
}
