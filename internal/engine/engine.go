// Package engine implements the governance decision engine: the job state
// machine, the orchestrated generation fold, and the publish/decommission
// authorization paths.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pagemill/governor/internal/audit"
	"github.com/pagemill/governor/internal/config"
	"github.com/pagemill/governor/internal/gates"
	"github.com/pagemill/governor/internal/guard"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
	"github.com/pagemill/governor/internal/validate"
	"github.com/pagemill/governor/pkg/embedding"
	"github.com/pagemill/governor/pkg/generation"
)

// Deps wires the engine's collaborators. Every field except Embedder and
// Limiter is required.
type Deps struct {
	Store     store.Store
	Preflight *validate.Preflight
	Postcheck *validate.Postcheck
	Gates     *gates.Manager
	Recorder  *audit.Recorder
	Generator generation.Client
	Embedder  embedding.Provider
	Limiter   *rate.Limiter
	Engine    config.EngineConfig
	Toggles   config.TogglesConfig
}

// Engine coordinates validation, generation, budget enforcement, and
// publish authorization for content artifacts.
type Engine struct {
	store     store.Store
	preflight *validate.Preflight
	postcheck *validate.Postcheck
	gates     *gates.Manager
	guard     *guard.Guard
	recorder  *audit.Recorder
	generator generation.Client
	embedder  embedding.Provider
	limiter   *rate.Limiter
	cfg       config.EngineConfig
	toggles   config.TogglesConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds the engine. Returns an error when a required collaborator is
// missing so wiring mistakes fail at startup, not mid-job.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, eris.New("engine: store is required")
	case deps.Preflight == nil || deps.Postcheck == nil:
		return nil, eris.New("engine: validators are required")
	case deps.Gates == nil:
		return nil, eris.New("engine: gate manager is required")
	case deps.Recorder == nil:
		return nil, eris.New("engine: audit recorder is required")
	case deps.Generator == nil:
		return nil, eris.New("engine: generation client is required")
	}
	if deps.Embedder == nil {
		deps.Embedder = embedding.Noop{}
	}
	if deps.Limiter == nil {
		deps.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if deps.Engine.MaxRetries <= 0 {
		deps.Engine.MaxRetries = model.DefaultMaxRetries
	}
	if deps.Engine.MaxCostUSD <= 0 {
		deps.Engine.MaxCostUSD = model.DefaultMaxCostUSD
	}
	return &Engine{
		store:     deps.Store,
		preflight: deps.Preflight,
		postcheck: deps.Postcheck,
		gates:     deps.Gates,
		guard:     guard.New(),
		recorder:  deps.Recorder,
		generator: deps.Generator,
		embedder:  deps.Embedder,
		limiter:   deps.Limiter,
		cfg:       deps.Engine,
		toggles:   deps.Toggles,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// lockJob serializes all mutations of one job. Jobs are independent; the map
// grows with active jobs and entries are never evicted within a process run,
// which is bounded by the one-active-job-per-artifact constraint.
func (e *Engine) lockJob(jobID string) func() {
	e.mu.Lock()
	l, ok := e.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[jobID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Validate runs the preflight checks for a candidate artifact without
// touching any job.
func (e *Engine) Validate(ctx context.Context, candidate *model.Artifact) (*validate.Result, error) {
	return e.preflight.Validate(ctx, candidate)
}

// Postcheck inspects generated content for the given job's artifact without
// mutating job state.
func (e *Engine) Postcheck(ctx context.Context, jobID string, content *model.GeneratedContent) (*validate.Result, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	artifact, err := e.store.GetArtifact(ctx, job.ArtifactID)
	if err != nil {
		return nil, err
	}
	return e.postcheck.Validate(ctx, artifact, jobID, content)
}

// NewJob creates a generation job for an artifact. The store's partial
// unique index enforces at-most-one-active-job-per-artifact; a second active
// job surfaces as STATE_CONFLICT.
func (e *Engine) NewJob(ctx context.Context, artifactID string) (*model.GenerationJob, error) {
	if !e.toggles.GenerationEnabled {
		return nil, model.NewState(model.CodeGenerationDisabled, "generation is disabled by configuration")
	}
	if _, err := e.store.GetArtifact(ctx, artifactID); err != nil {
		return nil, err
	}

	job, err := e.store.CreateJob(ctx, &model.GenerationJob{
		ID:         uuid.NewString(),
		ArtifactID: artifactID,
		State:      model.JobStateDraft,
		MaxRetries: e.cfg.MaxRetries,
		MaxCostUSD: e.cfg.MaxCostUSD,
	})
	if err != nil {
		return nil, err
	}

	e.recorder.Record(ctx, audit.NewEvent(model.AuditJobCreated, "engine", artifactID, job.ID, "created", map[string]any{
		"max_retries":  job.MaxRetries,
		"max_cost_usd": job.MaxCostUSD,
	}))
	zap.L().Info("engine: job created",
		zap.String("job_id", job.ID),
		zap.String("artifact_id", artifactID),
	)
	return job, nil
}

// Transition applies an externally requested state change. Same-state replay
// is an idempotent no-op; locked states reject outside mutation with
// STATE_CONFLICT; terminal states reject everything with JOB_TERMINAL.
func (e *Engine) Transition(ctx context.Context, jobID string, target model.JobState, reason string) (*model.GenerationJob, error) {
	unlock := e.lockJob(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.State == target {
		return job, nil // replay of an applied transition
	}
	if job.State.Terminal() {
		return nil, model.NewState(model.CodeJobTerminal,
			fmt.Sprintf("job is terminal in state %s", job.State))
	}
	if job.State.Locked() {
		return nil, model.NewState(model.CodeStateConflict,
			fmt.Sprintf("job is %s; concurrent mutation rejected", job.State))
	}
	if !CanTransition(job.State, target) {
		return nil, transitionError(job.State, target)
	}

	if err := e.applyTransition(ctx, job, target, reason, ""); err != nil {
		return nil, err
	}
	return job, nil
}

// Cancel fails a non-terminal job with a cancellation reason, consuming one
// retry increment so cancel/retry cycles cannot stretch the retry ceiling.
func (e *Engine) Cancel(ctx context.Context, jobID, reason string) error {
	unlock := e.lockJob(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return model.NewState(model.CodeJobTerminal,
			fmt.Sprintf("job is terminal in state %s", job.State))
	}

	job.RetryCount++
	job.LastErrorCode = model.CodeGenerationCancelled
	if reason == "" {
		reason = "cancelled by caller"
	}
	return e.applyTransition(ctx, job, model.JobStateFailed, reason, model.CodeGenerationCancelled)
}

// applyTransition persists a validated state change and audits it. Terminal
// transitions flush the recorder before returning so the trail is durable.
// Callers hold the job lock.
func (e *Engine) applyTransition(ctx context.Context, job *model.GenerationJob, target model.JobState, reason, errCode string) error {
	if !CanTransition(job.State, target) {
		return transitionError(job.State, target)
	}

	from := job.State
	job.State = target
	job.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateJob(ctx, job); err != nil {
		job.State = from
		return err
	}

	e.recorder.Record(ctx, audit.NewEvent(model.AuditStateTransition, "engine", job.ArtifactID, job.ID, "applied", map[string]any{
		"from":       string(from),
		"to":         string(target),
		"reason":     reason,
		"error_code": errCode,
	}))
	zap.L().Info("engine: state transition",
		zap.String("job_id", job.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("reason", reason),
	)

	if target.Terminal() {
		if err := e.recorder.Flush(ctx); err != nil {
			zap.L().Error("engine: audit flush after terminal transition", zap.Error(err))
		}
	}
	return nil
}

// JobHistory returns the audit trail for an artifact.
func (e *Engine) JobHistory(ctx context.Context, artifactID string) ([]model.AuditEvent, error) {
	return e.recorder.History(ctx, artifactID, store.AuditFilter{})
}

// StateHistory returns the state transitions recorded for a job.
func (e *Engine) StateHistory(ctx context.Context, jobID string) ([]model.AuditEvent, error) {
	return e.recorder.JobHistory(ctx, jobID, store.AuditFilter{EventType: model.AuditStateTransition})
}
