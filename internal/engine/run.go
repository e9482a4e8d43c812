package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/guard"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/validate"
	"github.com/pagemill/governor/pkg/generation"
)

// GenerationRequest parameterizes one Run invocation. AttemptTimeout bounds
// each provider call; a timed-out attempt counts against the job's budget
// like any other failure.
type GenerationRequest struct {
	Brief          string
	PromptVersion  string
	AttemptTimeout time.Duration
	MaxTokens      int64
	Temperature    *float64
}

// DefaultAttemptTimeout applies when the caller does not supply one.
const DefaultAttemptTimeout = 2 * time.Minute

// RunResult reports the full outcome of an orchestrated generation run.
type RunResult struct {
	Job       *model.GenerationJob    `json:"job"`
	Artifact  *model.Artifact         `json:"artifact,omitempty"`
	Preflight *validate.Result        `json:"preflight,omitempty"`
	Postcheck *validate.Result        `json:"postcheck,omitempty"`
	Content   *model.GeneratedContent `json:"content,omitempty"`
	Attempts  int                     `json:"attempts"`
	CostUSD   float64                 `json:"cost_usd"`
}

// Run drives a draft job through the whole governance fold: preflight, prompt
// lock, rate-limited generation attempts, postcheck, and the guard's retry
// and cost decisions, ending in a terminal job state. The returned error is
// the terminal failure when the job did not complete; RunResult is populated
// either way.
func (e *Engine) Run(ctx context.Context, jobID string, req GenerationRequest) (*RunResult, error) {
	unlock := e.lockJob(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != model.JobStateDraft {
		if job.State.Terminal() {
			return nil, model.NewState(model.CodeJobTerminal,
				fmt.Sprintf("job is terminal in state %s", job.State))
		}
		return nil, model.NewState(model.CodeStateConflict,
			fmt.Sprintf("job is already running in state %s", job.State))
	}

	artifact, err := e.store.GetArtifact(ctx, job.ArtifactID)
	if err != nil {
		return nil, err
	}
	result := &RunResult{Job: job}

	// Stage 1: preflight. A failure is structural or conflict, never retried.
	pre, err := e.preflight.Validate(ctx, artifact)
	if err != nil {
		return nil, err
	}
	result.Preflight = pre
	e.recordGovernanceCheck(ctx, artifact, "preflight", pre.Err())
	if !pre.Pass {
		preErr := pre.Err()
		if err := e.applyTransition(ctx, job, model.JobStateFailed, "preflight failed", model.CodeOf(preErr)); err != nil {
			return result, err
		}
		return result, preErr
	}
	if err := e.applyTransition(ctx, job, model.JobStatePreflightApproved, "preflight passed", ""); err != nil {
		return result, err
	}

	// Stage 2: lock the prompt parameters for the attempt series.
	if err := e.applyTransition(ctx, job, model.JobStatePromptLocked,
		fmt.Sprintf("prompt locked (version %s)", req.PromptVersion), ""); err != nil {
		return result, err
	}

	// Stage 3: the attempt loop. Each iteration is one provider call folded
	// into the guard's retry/cost decision.
	return e.attemptLoop(ctx, job, artifact, req, result)
}

func (e *Engine) attemptLoop(ctx context.Context, job *model.GenerationJob, artifact *model.Artifact, req GenerationRequest, result *RunResult) (*RunResult, error) {
	timeout := req.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	for {
		if err := e.guard.BeforeAttempt(job); err != nil {
			if terr := e.applyTransition(ctx, job, model.JobStateRetryExceeded, "retry budget exhausted before attempt", model.CodeRetryLimitExceeded); terr != nil {
				return result, terr
			}
			return result, err
		}

		if err := e.applyTransition(ctx, job, model.JobStateProcessing,
			fmt.Sprintf("attempt %d", result.Attempts+1), ""); err != nil {
			return result, err
		}
		result.Attempts++

		if err := e.limiter.Wait(ctx); err != nil {
			return e.cancelRun(ctx, job, result, "rate limit wait interrupted")
		}

		gen, genErr := e.generateOnce(ctx, artifact, req, timeout)
		if errors.Is(genErr, context.Canceled) {
			return e.cancelRun(ctx, job, result, "generation cancelled mid-processing")
		}

		var cost float64
		if gen != nil {
			result.CostUSD += gen.CostUSD
			cost = gen.CostUSD
		}

		attemptErr := genErr
		if attemptErr == nil {
			post, err := e.postcheck.Validate(ctx, artifact, job.ID, gen.Content)
			if err != nil {
				return result, err
			}
			result.Postcheck = post
			attemptErr = post.Err()
			if attemptErr == nil {
				result.Content = gen.Content
			}
		}

		decision := e.guard.RecordAttempt(job, cost, attemptErr)
		switch decision.Action {
		case guard.ActionSucceed:
			return e.completeRun(ctx, job, artifact, result)

		case guard.ActionFailCost:
			reason := "cost ceiling breached"
			if err := e.applyTransition(ctx, job, model.JobStateFailed, reason, model.CodeCostLimitExceeded); err != nil {
				return result, err
			}
			return result, decision.Err

		case guard.ActionAbsorbRetries:
			if err := e.applyTransition(ctx, job, model.JobStatePostcheckFailed, "final attempt failed", model.CodeOf(attemptErr)); err != nil {
				return result, err
			}
			if err := e.applyTransition(ctx, job, model.JobStateRetryExceeded, "retry budget exhausted", model.CodeRetryLimitExceeded); err != nil {
				return result, err
			}
			return result, decision.Err

		default: // retry
			if err := e.applyTransition(ctx, job, model.JobStatePostcheckFailed,
				fmt.Sprintf("attempt failed, %d retries remain", job.MaxRetries-job.RetryCount), model.CodeOf(attemptErr)); err != nil {
				return result, err
			}
			zap.L().Info("engine: retrying generation",
				zap.String("job_id", job.ID),
				zap.Int("retry_count", job.RetryCount),
				zap.String("error_code", model.CodeOf(attemptErr)),
			)
		}
	}
}

// generateOnce runs exactly one bounded provider call. No transport retries:
// a failure here must count against the job budget, not get absorbed by a
// lower layer.
func (e *Engine) generateOnce(ctx context.Context, artifact *model.Artifact, req GenerationRequest, timeout time.Duration) (*generation.ContentResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.generator.Generate(attemptCtx, generation.ContentRequest{
		ArtifactID:    artifact.ID,
		SiteID:        artifact.SiteID,
		Path:          artifact.Path,
		Title:         artifact.Title,
		TargetKeyword: artifact.TargetKeyword,
		Brief:         req.Brief,
		PromptVersion: req.PromptVersion,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
	})
}

// completeRun accepts the generated content: the artifact is updated, an
// embedding computed when available, and the job driven to completed.
func (e *Engine) completeRun(ctx context.Context, job *model.GenerationJob, artifact *model.Artifact, result *RunResult) (*RunResult, error) {
	if err := e.applyTransition(ctx, job, model.JobStatePostcheckPassed, "postcheck passed", ""); err != nil {
		return result, err
	}

	content := result.Content
	artifact.Body = content.Body
	artifact.Sections = model.Sections{
		Entities: content.Entities,
		FAQs:     content.FAQs,
		Links:    content.Links,
	}
	artifact.Status = model.StatusPendingReview
	e.recordGovernanceCheck(ctx, artifact, "postcheck", nil)

	if e.toggles.SemanticScanEnabled {
		if vec, err := e.embedder.Embed(ctx, artifact.Title+"\n"+content.Body); err != nil {
			zap.L().Warn("engine: embedding failed; artifact stored without one",
				zap.String("artifact_id", artifact.ID), zap.Error(err))
		} else if len(vec) > 0 {
			artifact.Embedding = vec
		}
	}

	if err := e.store.UpdateArtifact(ctx, artifact); err != nil {
		return result, err
	}
	result.Artifact = artifact

	if err := e.applyTransition(ctx, job, model.JobStateCompleted, "content accepted", ""); err != nil {
		return result, err
	}
	return result, nil
}

// cancelRun handles caller cancellation observed mid-processing: the job
// fails with a cancellation code and one retry increment is consumed.
func (e *Engine) cancelRun(ctx context.Context, job *model.GenerationJob, result *RunResult, reason string) (*RunResult, error) {
	job.RetryCount++
	job.LastErrorCode = model.CodeGenerationCancelled

	// The caller's context is gone; the terminal write must still land.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.applyTransition(flushCtx, job, model.JobStateFailed, reason, model.CodeGenerationCancelled); err != nil {
		return result, err
	}
	return result, model.NewState(model.CodeGenerationCancelled, reason)
}

// recordGovernanceCheck stamps a validator outcome on the artifact's
// governance record and persists it. Lookup failures are logged, not fatal:
// the audit log remains the source of truth.
func (e *Engine) recordGovernanceCheck(ctx context.Context, artifact *model.Artifact, name string, outcome error) {
	if artifact.GovernanceChecks == nil {
		artifact.GovernanceChecks = make(map[string]model.CheckOutcome)
	}
	artifact.GovernanceChecks[name] = model.CheckOutcome{
		Passed:    outcome == nil,
		ErrorCode: model.CodeOf(outcome),
		CheckedAt: time.Now().UTC(),
	}
	if err := e.store.UpdateArtifact(ctx, artifact); err != nil {
		zap.L().Warn("engine: persisting governance check failed",
			zap.String("artifact_id", artifact.ID),
			zap.String("check", name),
			zap.Error(err),
		)
	}
}
