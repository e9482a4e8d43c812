package engine

import (
	"fmt"

	"github.com/pagemill/governor/internal/model"
)

// allowedTransitions is the closed transition table. States advance strictly
// in sequence; skipping is an INVALID_TRANSITION. Terminal states have no
// successors.
var allowedTransitions = map[model.JobState][]model.JobState{
	model.JobStateDraft: {
		model.JobStatePreflightApproved,
		model.JobStateFailed,
	},
	model.JobStatePreflightApproved: {
		model.JobStatePromptLocked,
		model.JobStateFailed,
	},
	model.JobStatePromptLocked: {
		model.JobStateProcessing,
		model.JobStateFailed,
	},
	model.JobStateProcessing: {
		model.JobStatePostcheckPassed,
		model.JobStatePostcheckFailed,
		model.JobStateFailed,
		model.JobStateRetryExceeded,
	},
	model.JobStatePostcheckPassed: {
		model.JobStateCompleted,
		model.JobStateFailed,
	},
	model.JobStatePostcheckFailed: {
		model.JobStateProcessing,
		model.JobStateFailed,
		model.JobStateRetryExceeded,
	},
	model.JobStateCompleted:     {},
	model.JobStateFailed:        {},
	model.JobStateRetryExceeded: {},
}

// CanTransition reports whether the table permits moving from one state to
// another. Same-state is not a transition; callers treat it as a replay.
func CanTransition(from, to model.JobState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transitionError classifies a rejected transition: terminal source states
// get JOB_TERMINAL, everything else INVALID_TRANSITION. Never mutates state.
func transitionError(from, to model.JobState) error {
	if from.Terminal() {
		return model.NewState(model.CodeJobTerminal,
			fmt.Sprintf("job is terminal in state %s; create a new job to retry", from))
	}
	return model.NewState(model.CodeInvalidTransition,
		fmt.Sprintf("cannot transition from %s to %s", from, to))
}
