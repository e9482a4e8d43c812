package store

import (
	"context"
	"time"

	"github.com/pagemill/governor/internal/model"
)

// AuditFilter specifies criteria for listing audit events.
type AuditFilter struct {
	EventType model.AuditEventType `json:"event_type,omitempty"`
	Since     time.Time            `json:"since,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
	Offset    int                  `json:"offset,omitempty"`
}

// JobStats is an aggregate view of jobs used by the monitoring collector.
type JobStats struct {
	ByState       map[model.JobState]int `json:"by_state"`
	TotalCostUSD  float64                `json:"total_cost_usd"`
	LookbackSince time.Time              `json:"lookback_since"`
}

// Store defines the persistence interface for the governance engine. It is
// also the Structural Store contract: path uniqueness, keyword binding, and
// silo arity are enforced here, atomically, and surfaced as typed structural
// violations. The engine never pre-checks-then-writes.
type Store interface {
	// Artifacts
	CreateArtifact(ctx context.Context, a *model.Artifact) (*model.Artifact, error)
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
	UpdateArtifact(ctx context.Context, a *model.Artifact) error
	ListArtifactsBySite(ctx context.Context, siteID string) ([]model.Artifact, error)
	DeleteOrphanArtifacts(ctx context.Context, siteID string) (int, error)

	// Structural operations
	ReservePath(ctx context.Context, siteID, path, excludeArtifactID string) error
	BindKeyword(ctx context.Context, artifactID, keyword string) error
	CountSilos(ctx context.Context, siteID string) (int, error)
	CreateSilo(ctx context.Context, s *model.Silo) (*model.Silo, error)
	DeleteSilo(ctx context.Context, id string) error
	ListSilos(ctx context.Context, siteID string) ([]model.Silo, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.GenerationJob) (*model.GenerationJob, error)
	GetJob(ctx context.Context, id string) (*model.GenerationJob, error)
	UpdateJob(ctx context.Context, job *model.GenerationJob) error
	ListJobsByArtifact(ctx context.Context, artifactID string) ([]model.GenerationJob, error)
	JobStatsSince(ctx context.Context, since time.Time) (*JobStats, error)

	// Gate-result cache
	SaveGateResults(ctx context.Context, artifactID string, results []model.GateResult) error
	GetGateResults(ctx context.Context, artifactID string) ([]model.GateResult, error)
	DeleteStaleGateResults(ctx context.Context, olderThan time.Time) (int, error)

	// Audit log (append-only)
	AppendAuditEvents(ctx context.Context, events []model.AuditEvent) error
	ListAuditByArtifact(ctx context.Context, artifactID string, filter AuditFilter) ([]model.AuditEvent, error)
	ListAuditByJob(ctx context.Context, jobID string, filter AuditFilter) ([]model.AuditEvent, error)
	CountAuditSince(ctx context.Context, since time.Time) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
