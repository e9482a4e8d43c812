package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/governor/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

// anyArgs builds n wildcard matchers; pgxmock requires the expected argument
// count to match the call even when the values themselves are irrelevant.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_GetArtifact_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM artifacts WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetArtifact(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Equal(t, model.CodeArtifactNotFound, model.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateArtifact_DuplicatePath(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO artifacts`).
		WithArgs(anyArgs(19)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraintArtifactPath})

	_, err := s.CreateArtifact(context.Background(), &model.Artifact{
		SiteID: "site-1",
		SiloID: "silo-1",
		Path:   "/services/plumbing",
	})
	require.Error(t, err)
	assert.Equal(t, model.CodePathNotUnique, model.CodeOf(err))
	assert.Equal(t, model.KindStructural, model.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReservePath(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Free path: the probe finds nothing.
	mock.ExpectQuery(`SELECT id FROM artifacts WHERE site_id = \$1 AND path = \$2`).
		WithArgs("site-1", "/pricing", "").
		WillReturnError(pgx.ErrNoRows)

	require.NoError(t, s.ReservePath(context.Background(), "site-1", "/Pricing/", ""))

	// Held path: the probe surfaces the holder.
	mock.ExpectQuery(`SELECT id FROM artifacts WHERE site_id = \$1 AND path = \$2`).
		WithArgs("site-1", "/pricing", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("artifact-9"))

	err := s.ReservePath(context.Background(), "site-1", "/pricing", "")
	require.Error(t, err)
	assert.Equal(t, model.CodePathNotUnique, model.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BindKeyword_RebindForbidden(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE artifacts SET target_keyword`).
		WithArgs("new keyword", "artifact-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT target_keyword FROM artifacts WHERE id = \$1`).
		WithArgs("artifact-1").
		WillReturnRows(pgxmock.NewRows([]string{"target_keyword"}).AddRow("old keyword"))

	err := s.BindKeyword(context.Background(), "artifact-1", "new keyword")
	require.Error(t, err)
	assert.Equal(t, model.CodeKeywordRebid, model.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSilo_LimitExceeded(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// The guarded insert matches zero rows when the site is at capacity.
	mock.ExpectExec(`INSERT INTO silos`).
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, err := s.CreateSilo(context.Background(), &model.Silo{SiteID: "site-1", Name: "eighth"})
	require.Error(t, err)
	assert.Equal(t, model.CodeSiloLimitExceeded, model.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteSilo_MinimumRequired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM silos WHERE id = \$1`).
		WithArgs("silo-1", model.MinSilosPerSite).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("silo-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.DeleteSilo(context.Background(), "silo-1")
	require.Error(t, err)
	assert.Equal(t, model.CodeSiloMinimumRequired, model.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_SecondActiveConflicts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(anyArgs(10)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraintOneActiveJob})

	_, err := s.CreateJob(context.Background(), &model.GenerationJob{ArtifactID: "artifact-1"})
	require.Error(t, err)
	assert.Equal(t, model.CodeStateConflict, model.CodeOf(err))
	assert.Equal(t, model.KindState, model.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "artifact_id", "state", "retry_count", "max_retries",
			"accumulated_cost_usd", "max_cost_usd", "last_error_code", "created_at", "updated_at",
		}).AddRow("job-1", "artifact-1", "processing", 1, 3, 0.25, 10.0, "", now, now))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateProcessing, job.State)
	assert.Equal(t, 1, job.RetryCount)
	assert.InDelta(t, 0.25, job.AccumulatedCostUSD, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET state`).
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJob(context.Background(), &model.GenerationJob{ID: "ghost", State: model.JobStateFailed})
	require.Error(t, err)
	assert.Equal(t, model.CodeJobNotFound, model.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_JobStatsSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(`SELECT state, COUNT\(\*\)`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"state", "count", "cost"}).
			AddRow("completed", 5, 3.75).
			AddRow("failed", 2, 1.25))

	stats, err := s.JobStatsSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.ByState[model.JobStateCompleted])
	assert.Equal(t, 2, stats.ByState[model.JobStateFailed])
	assert.InDelta(t, 5.0, stats.TotalCostUSD, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteStaleGateResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cutoff := time.Now().Add(-time.Hour)
	mock.ExpectExec(`DELETE FROM gate_results WHERE checked_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.DeleteStaleGateResults(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountAuditSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_events`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))

	count, err := s.CountAuditSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 12, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
