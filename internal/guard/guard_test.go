package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/governor/internal/model"
)

func newJob() *model.GenerationJob {
	return &model.GenerationJob{
		ID:         "job-1",
		ArtifactID: "artifact-1",
		State:      model.JobStateProcessing,
		MaxRetries: model.DefaultMaxRetries,
		MaxCostUSD: model.DefaultMaxCostUSD,
	}
}

func TestBeforeAttempt(t *testing.T) {
	g := New()
	job := newJob()

	require.NoError(t, g.BeforeAttempt(job))

	job.RetryCount = job.MaxRetries
	err := g.BeforeAttempt(job)
	require.Error(t, err)
	assert.Equal(t, model.CodeRetryLimitExceeded, model.CodeOf(err))
	assert.Equal(t, model.KindBudget, model.KindOf(err))
}

// A job with max_retries=3 that fails three times absorbs on the third
// failure, not the fourth.
func TestRecordAttempt_ThirdFailureAbsorbs(t *testing.T) {
	g := New()
	job := newJob()
	attemptErr := model.NewContentQuality(model.CodeFAQMinimum, "only 2 FAQs")

	d := g.RecordAttempt(job, 0.10, attemptErr)
	assert.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 1, job.RetryCount)

	d = g.RecordAttempt(job, 0.10, attemptErr)
	assert.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 2, job.RetryCount)

	d = g.RecordAttempt(job, 0.10, attemptErr)
	assert.Equal(t, ActionAbsorbRetries, d.Action)
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, model.CodeRetryLimitExceeded, model.CodeOf(d.Err))
	assert.Equal(t, model.CodeRetryLimitExceeded, job.LastErrorCode)
}

func TestRecordAttempt_Success(t *testing.T) {
	g := New()
	job := newJob()

	d := g.RecordAttempt(job, 1.25, nil)
	assert.Equal(t, ActionSucceed, d.Action)
	assert.NoError(t, d.Err)
	assert.InDelta(t, 1.25, job.AccumulatedCostUSD, 1e-9)
	assert.Zero(t, job.RetryCount)
}

func TestRecordAttempt_CostCeilingIndependentOfRetries(t *testing.T) {
	g := New()
	job := newJob()
	job.AccumulatedCostUSD = 9.50

	// First attempt, plenty of retry budget left; the cost ceiling still trips.
	d := g.RecordAttempt(job, 0.75, model.NewSystem(model.CodeProviderTimeout, "deadline"))
	assert.Equal(t, ActionFailCost, d.Action)
	assert.Equal(t, model.CodeCostLimitExceeded, model.CodeOf(d.Err))
	assert.Equal(t, model.CodeCostLimitExceeded, job.LastErrorCode)
	assert.InDelta(t, 10.25, job.AccumulatedCostUSD, 1e-9)
	// Retry count untouched: the cost verdict pre-empts the retry fold.
	assert.Zero(t, job.RetryCount)
}

func TestRecordAttempt_CostCeilingOnSuccessfulAttempt(t *testing.T) {
	g := New()
	job := newJob()
	job.AccumulatedCostUSD = 9.90

	// Even a successful attempt fails the job when its cost breaches the cap.
	d := g.RecordAttempt(job, 0.20, nil)
	assert.Equal(t, ActionFailCost, d.Action)
	assert.Equal(t, model.CodeCostLimitExceeded, model.CodeOf(d.Err))
}

func TestRecordAttempt_CountersMonotonic(t *testing.T) {
	g := New()
	job := newJob()
	job.MaxRetries = 5
	attemptErr := model.NewSystem(model.CodeProviderUnavailable, "503")

	var lastRetry int
	var lastCost float64
	for i := 0; i < 4; i++ {
		g.RecordAttempt(job, 0.05, attemptErr)
		assert.Greater(t, job.RetryCount, lastRetry)
		assert.Greater(t, job.AccumulatedCostUSD, lastCost)
		lastRetry = job.RetryCount
		lastCost = job.AccumulatedCostUSD
	}
}

func TestRecordAttempt_RecordsAttemptErrorCode(t *testing.T) {
	g := New()
	job := newJob()

	g.RecordAttempt(job, 0.05, model.NewSystem(model.CodeProviderTimeout, "deadline"))
	assert.Equal(t, model.CodeProviderTimeout, job.LastErrorCode)
}
