// Package guard enforces the per-job retry and cost ceilings. Both ceilings
// are independent; either one tripping is sufficient to stop the job.
package guard

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/model"
)

// Action is the guard's verdict after an attempt is folded in.
type Action string

const (
	// ActionSucceed accepts the attempt's result; the job may complete.
	ActionSucceed Action = "succeed"
	// ActionRetry permits another generation attempt.
	ActionRetry Action = "retry"
	// ActionAbsorbRetries moves the job to the absorbing retry-exceeded state.
	ActionAbsorbRetries Action = "absorb_retries"
	// ActionFailCost fails the job on a cost ceiling breach.
	ActionFailCost Action = "fail_cost"
)

// Decision pairs the verdict with the budget error when a ceiling tripped.
type Decision struct {
	Action Action
	Err    error
}

// Guard tracks generation attempts and accumulated spend against a job's
// ceilings. Counters are monotonic and never reset within a job; a fresh job
// is required to retry past either ceiling.
type Guard struct{}

func New() *Guard {
	return &Guard{}
}

// BeforeAttempt rejects a generation attempt when the retry budget is already
// exhausted. The caller absorbs the job; no attempt is made, no partial credit.
func (g *Guard) BeforeAttempt(job *model.GenerationJob) error {
	if job.RetryCount >= job.MaxRetries {
		return model.NewBudget(model.CodeRetryLimitExceeded,
			fmt.Sprintf("job %s has used %d of %d retries", job.ID, job.RetryCount, job.MaxRetries))
	}
	return nil
}

// RecordAttempt folds one attempt's outcome into the job's accumulated
// counters and returns the next action. The cost ceiling is checked first:
// a breach fails the job regardless of remaining retry budget, even when the
// attempt itself succeeded.
func (g *Guard) RecordAttempt(job *model.GenerationJob, costUSD float64, attemptErr error) Decision {
	job.AccumulatedCostUSD += costUSD

	if job.AccumulatedCostUSD > job.MaxCostUSD {
		zap.L().Warn("guard: cost ceiling breached",
			zap.String("job_id", job.ID),
			zap.Float64("accumulated_cost_usd", job.AccumulatedCostUSD),
			zap.Float64("max_cost_usd", job.MaxCostUSD),
		)
		err := model.NewBudget(model.CodeCostLimitExceeded,
			fmt.Sprintf("job %s accumulated $%.4f against a $%.2f ceiling", job.ID, job.AccumulatedCostUSD, job.MaxCostUSD))
		job.LastErrorCode = model.CodeCostLimitExceeded
		return Decision{Action: ActionFailCost, Err: err}
	}

	if attemptErr == nil {
		return Decision{Action: ActionSucceed}
	}

	job.RetryCount++
	if code := model.CodeOf(attemptErr); code != "" {
		job.LastErrorCode = code
	}

	if job.RetryCount >= job.MaxRetries {
		err := model.NewBudget(model.CodeRetryLimitExceeded,
			fmt.Sprintf("job %s exhausted its %d retries", job.ID, job.MaxRetries))
		job.LastErrorCode = model.CodeRetryLimitExceeded
		return Decision{Action: ActionAbsorbRetries, Err: err}
	}

	return Decision{Action: ActionRetry}
}
