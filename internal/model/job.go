package model

import "time"

// JobState represents the lifecycle state of a generation job.
type JobState string

const (
	JobStateDraft             JobState = "draft"
	JobStatePreflightApproved JobState = "preflight_approved"
	JobStatePromptLocked      JobState = "prompt_locked"
	JobStateProcessing        JobState = "processing"
	JobStatePostcheckPassed   JobState = "postcheck_passed"
	JobStatePostcheckFailed   JobState = "postcheck_failed"
	JobStateCompleted         JobState = "completed"
	JobStateFailed            JobState = "failed"
	JobStateRetryExceeded     JobState = "ai_max_retry_exceeded"
)

// Terminal reports whether the state is absorbing: a job that reaches it can
// never transition again, and a fresh job is required to retry the artifact.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateRetryExceeded:
		return true
	}
	return false
}

// Locked reports whether the state rejects concurrent mutation requests.
func (s JobState) Locked() bool {
	return s == JobStatePromptLocked || s == JobStateProcessing
}

// TerminalJobStates lists every absorbing state, in a stable order.
func TerminalJobStates() []JobState {
	return []JobState{JobStateCompleted, JobStateFailed, JobStateRetryExceeded}
}

// Job budget defaults. Both ceilings are independent; either one tripping
// stops the job.
const (
	DefaultMaxRetries = 3
	DefaultMaxCostUSD = 10.0
)

// GenerationJob tracks a single bounded attempt series to generate content
// for one artifact. Mutated only by the job state machine; retry and cost
// counters are monotonic and never reset within the job's lifetime.
type GenerationJob struct {
	ID                 string    `json:"id"`
	ArtifactID         string    `json:"artifact_id"`
	State              JobState  `json:"state"`
	RetryCount         int       `json:"retry_count"`
	MaxRetries         int       `json:"max_retries"`
	AccumulatedCostUSD float64   `json:"accumulated_cost_usd"`
	MaxCostUSD         float64   `json:"max_cost_usd"`
	LastErrorCode      string    `json:"last_error_code,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// GeneratedContent is the structured result returned by the generation
// provider, inspected by the postcheck validator before acceptance.
type GeneratedContent struct {
	Body     string   `json:"body"`
	Entities []Entity `json:"entities"`
	FAQs     []FAQ    `json:"faqs"`
	Links    []Link   `json:"links"`
	Raw      string   `json:"-"` // provider JSON as received, for audit payloads
}
