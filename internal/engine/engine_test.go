package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/governor/internal/audit"
	"github.com/pagemill/governor/internal/config"
	"github.com/pagemill/governor/internal/conflict"
	"github.com/pagemill/governor/internal/gates"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
	"github.com/pagemill/governor/internal/validate"
	"github.com/pagemill/governor/pkg/generation"
)

// scriptedGenerator returns canned results in order, repeating the last one.
type scriptedGenerator struct {
	script []genAttempt
	calls  int
}

type genAttempt struct {
	result *generation.ContentResult
	err    error
}

func (s *scriptedGenerator) Generate(_ context.Context, _ generation.ContentRequest) (*generation.ContentResult, error) {
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	a := s.script[i]
	return a.result, a.err
}

func acceptableContent() *model.GeneratedContent {
	return &model.GeneratedContent{
		Body: "# Boiler Servicing\n\nAn annual service keeps a boiler safe and efficient.",
		Entities: []model.Entity{
			{Name: "Boiler"}, {Name: "Gas Safe"}, {Name: "Annual Service"},
		},
		FAQs: []model.FAQ{
			{Question: "How often?", Answer: "Yearly."},
			{Question: "Who?", Answer: "A registered engineer."},
			{Question: "How long?", Answer: "About an hour."},
		},
		Links: []model.Link{},
	}
}

func thinContent() *model.GeneratedContent {
	c := acceptableContent()
	c.Entities = c.Entities[:2]
	return c
}

type engineHarness struct {
	engine   *Engine
	store    *store.SQLiteStore
	recorder *audit.Recorder
	gen      *scriptedGenerator
	artifact *model.Artifact
}

func newEngineHarness(t *testing.T, script ...genAttempt) *engineHarness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	rec := audit.NewRecorder(st, st, audit.WithFlushInterval(time.Hour))
	t.Cleanup(rec.Close)

	var firstSilo string
	for i := 1; i <= model.MinSilosPerSite; i++ {
		silo, err := st.CreateSilo(context.Background(), &model.Silo{SiteID: "site-1", Name: fmt.Sprintf("silo-%d", i)})
		require.NoError(t, err)
		if i == 1 {
			firstSilo = silo.ID
		}
	}

	artifact, err := st.CreateArtifact(context.Background(), &model.Artifact{
		SiteID:          "site-1",
		SiloID:          firstSilo,
		Path:            "/boiler-servicing",
		Title:           "Boiler Servicing",
		MetaDescription: "what a boiler service covers and why it matters",
		TargetKeyword:   "boiler servicing",
	})
	require.NoError(t, err)

	detector := conflict.NewDetector(config.DefaultDetectorConfig(), false)
	gm, err := gates.NewManager(config.GatesConfig{
		Enabled: []string{gates.GateGovernanceChecks, gates.GateSchemaSync, gates.GateContentStructure, gates.GateStatusEligibility},
	}, st)
	require.NoError(t, err)

	if len(script) == 0 {
		script = []genAttempt{{result: &generation.ContentResult{Content: acceptableContent(), CostUSD: 0.01}}}
	}
	gen := &scriptedGenerator{script: script}

	eng, err := New(Deps{
		Store:     st,
		Preflight: validate.NewPreflight(st, detector, rec),
		Postcheck: validate.NewPostcheck(st, rec, nil),
		Gates:     gm,
		Recorder:  rec,
		Generator: gen,
		Engine:    config.EngineConfig{MaxRetries: 3, MaxCostUSD: 10.0, GateCacheTTLMinutes: 5},
		Toggles:   config.TogglesConfig{GenerationEnabled: true, PublishEnabled: true},
	})
	require.NoError(t, err)

	return &engineHarness{engine: eng, store: st, recorder: rec, gen: gen, artifact: artifact}
}

func (h *engineHarness) newJob(t *testing.T) *model.GenerationJob {
	t.Helper()
	job, err := h.engine.NewJob(context.Background(), h.artifact.ID)
	require.NoError(t, err)
	return job
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(model.JobStateDraft, model.JobStatePreflightApproved))
	assert.True(t, CanTransition(model.JobStateProcessing, model.JobStatePostcheckPassed))
	assert.True(t, CanTransition(model.JobStatePostcheckFailed, model.JobStateProcessing))
	assert.True(t, CanTransition(model.JobStatePostcheckFailed, model.JobStateRetryExceeded))

	// No skipping.
	assert.False(t, CanTransition(model.JobStateDraft, model.JobStateProcessing))
	assert.False(t, CanTransition(model.JobStatePreflightApproved, model.JobStatePostcheckPassed))
	assert.False(t, CanTransition(model.JobStateDraft, model.JobStateCompleted))

	// Terminal states have no successors.
	for _, terminal := range model.TerminalJobStates() {
		assert.Empty(t, allowedTransitions[terminal])
	}
}

func TestNewJob(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	job := h.newJob(t)
	assert.Equal(t, model.JobStateDraft, job.State)
	assert.Equal(t, 3, job.MaxRetries)
	assert.InDelta(t, 10.0, job.MaxCostUSD, 1e-9)

	// A second active job for the same artifact is rejected.
	_, err := h.engine.NewJob(ctx, h.artifact.ID)
	require.Error(t, err)
	assert.Equal(t, model.CodeStateConflict, model.CodeOf(err))
	assert.Equal(t, model.KindState, model.KindOf(err))
}

func TestNewJob_GenerationDisabled(t *testing.T) {
	h := newEngineHarness(t)
	h.engine.toggles.GenerationEnabled = false

	_, err := h.engine.NewJob(context.Background(), h.artifact.ID)
	require.Error(t, err)
	assert.Equal(t, model.CodeGenerationDisabled, model.CodeOf(err))
}

func TestNewJob_MissingArtifact(t *testing.T) {
	h := newEngineHarness(t)
	_, err := h.engine.NewJob(context.Background(), "no-such-artifact")
	require.Error(t, err)
	assert.Equal(t, model.CodeArtifactNotFound, model.CodeOf(err))
}

func TestTransition_SequenceAndReplay(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)

	moved, err := h.engine.Transition(ctx, job.ID, model.JobStatePreflightApproved, "preflight passed externally")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePreflightApproved, moved.State)

	// Replaying the applied transition is an idempotent no-op.
	replayed, err := h.engine.Transition(ctx, job.ID, model.JobStatePreflightApproved, "replay")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePreflightApproved, replayed.State)

	// Skipping a state is rejected and leaves the job unchanged.
	_, err = h.engine.Transition(ctx, job.ID, model.JobStateProcessing, "skip")
	require.Error(t, err)
	assert.Equal(t, model.CodeInvalidTransition, model.CodeOf(err))

	current, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePreflightApproved, current.State)
}

func TestTransition_LockedRejectsConcurrentMutation(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)

	for _, target := range []model.JobState{model.JobStatePreflightApproved, model.JobStatePromptLocked} {
		_, err := h.engine.Transition(ctx, job.ID, target, "advance")
		require.NoError(t, err)
	}

	_, err := h.engine.Transition(ctx, job.ID, model.JobStateProcessing, "outside caller")
	require.Error(t, err)
	assert.Equal(t, model.CodeStateConflict, model.CodeOf(err))
}

func TestTransition_TerminalRejected(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)

	_, err := h.engine.Transition(ctx, job.ID, model.JobStateFailed, "abandoned")
	require.NoError(t, err)

	_, err = h.engine.Transition(ctx, job.ID, model.JobStateDraft, "resurrect")
	require.Error(t, err)
	assert.Equal(t, model.CodeJobTerminal, model.CodeOf(err))
}

func TestRun_CompletesAndUpdatesArtifact(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)

	result, err := h.engine.Run(ctx, job.ID, GenerationRequest{PromptVersion: "v1"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, result.Job.State)
	assert.Equal(t, 1, result.Attempts)
	assert.InDelta(t, 0.01, result.CostUSD, 1e-9)
	require.NotNil(t, result.Content)

	stored, err := h.store.GetArtifact(ctx, h.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, stored.Status)
	assert.NotEmpty(t, stored.Body)
	assert.Len(t, stored.Sections.Entities, 3)
	assert.True(t, stored.GovernanceChecks["preflight"].Passed)
	assert.True(t, stored.GovernanceChecks["postcheck"].Passed)

	// Every applied transition is on the audit trail.
	require.NoError(t, h.recorder.Flush(ctx))
	transitions, err := h.engine.StateHistory(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, transitions, 5) // draft→approved→locked→processing→passed→completed
}

func TestRun_RetryBudgetAbsorbsThirdFailure(t *testing.T) {
	h := newEngineHarness(t, genAttempt{
		result: &generation.ContentResult{Content: thinContent(), CostUSD: 0.01},
	})
	ctx := context.Background()
	job := h.newJob(t)

	result, err := h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.Error(t, err)
	assert.Equal(t, model.CodeRetryLimitExceeded, model.CodeOf(err))
	assert.Equal(t, model.KindBudget, model.KindOf(err))

	assert.Equal(t, model.JobStateRetryExceeded, result.Job.State)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, result.Job.RetryCount)
	assert.Equal(t, model.CodeRetryLimitExceeded, result.Job.LastErrorCode)
	assert.InDelta(t, 0.03, result.CostUSD, 1e-9)

	// The absorbing state is terminal: no further run or transition.
	_, err = h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.Error(t, err)
	assert.Equal(t, model.CodeJobTerminal, model.CodeOf(err))
}

func TestRun_CostCeilingFailsRegardlessOfRetries(t *testing.T) {
	h := newEngineHarness(t, genAttempt{
		result: &generation.ContentResult{CostUSD: 6.0},
		err:    model.NewContentQuality(model.CodeSchemaMismatch, "unparseable"),
	})
	ctx := context.Background()
	job := h.newJob(t)

	result, err := h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.Error(t, err)
	assert.Equal(t, model.CodeCostLimitExceeded, model.CodeOf(err))

	// Second attempt breached $10 with retries still available.
	assert.Equal(t, model.JobStateFailed, result.Job.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Less(t, result.Job.RetryCount, result.Job.MaxRetries)
	assert.InDelta(t, 12.0, result.Job.AccumulatedCostUSD, 1e-9)
}

func TestRun_PreflightFailureFailsJob(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	// A sibling page that collides on title and meta blocks preflight.
	_, err := h.store.CreateArtifact(ctx, &model.Artifact{
		SiteID:          "site-1",
		SiloID:          h.artifact.SiloID,
		Path:            "/boiler-servicing-guide",
		Title:           "Boiler Servicing",
		MetaDescription: "what a boiler service covers and why it matters",
	})
	require.NoError(t, err)

	job := h.newJob(t)
	result, err := h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.Error(t, err)
	assert.Equal(t, model.CodeConflictDetected, model.CodeOf(err))
	assert.Equal(t, model.JobStateFailed, result.Job.State)
	require.NotNil(t, result.Preflight)
	assert.False(t, result.Preflight.Pass)
	assert.Zero(t, result.Attempts)
}

func TestRun_ProviderFailuresCountAgainstBudget(t *testing.T) {
	h := newEngineHarness(t,
		genAttempt{err: model.NewSystem(model.CodeProviderTimeout, "timed out")},
		genAttempt{result: &generation.ContentResult{Content: acceptableContent(), CostUSD: 0.02}},
	)
	ctx := context.Background()
	job := h.newJob(t)

	result, err := h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, result.Job.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, result.Job.RetryCount)
}

func TestCancel(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)

	require.NoError(t, h.engine.Cancel(ctx, job.ID, "operator stop"))

	cancelled, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, cancelled.State)
	assert.Equal(t, model.CodeGenerationCancelled, cancelled.LastErrorCode)
	assert.Equal(t, 1, cancelled.RetryCount) // cancellation consumes a retry

	err = h.engine.Cancel(ctx, job.ID, "again")
	require.Error(t, err)
	assert.Equal(t, model.CodeJobTerminal, model.CodeOf(err))
}

func TestPublish_BlockedAndAllowed(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)

	_, err := h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.NoError(t, err)

	// Pending review is not eligible yet.
	blocked, err := h.engine.Publish(ctx, h.artifact.ID)
	require.NoError(t, err)
	assert.False(t, blocked.Published)
	assert.Contains(t, blocked.Decision.FailedGates(), gates.GateStatusEligibility)

	// Approve and retry.
	stored, err := h.store.GetArtifact(ctx, h.artifact.ID)
	require.NoError(t, err)
	stored.Status = model.StatusApproved
	require.NoError(t, h.store.UpdateArtifact(ctx, stored))

	published, err := h.engine.Publish(ctx, h.artifact.ID)
	require.NoError(t, err)
	assert.True(t, published.Published)
	assert.Equal(t, model.StatusPublished, published.Artifact.Status)

	events, err := h.recorder.History(ctx, h.artifact.ID, store.AuditFilter{EventType: model.AuditPublishDecision})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPublish_Disabled(t *testing.T) {
	h := newEngineHarness(t)
	h.engine.toggles.PublishEnabled = false

	_, err := h.engine.Publish(context.Background(), h.artifact.ID)
	require.Error(t, err)
	assert.Equal(t, model.CodePublishDisabled, model.CodeOf(err))
}

func TestDecommission_PreservesAuthority(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)
	_, err := h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.NoError(t, err)

	// Promote to published with authority evidence and a live redirect target.
	stored, err := h.store.GetArtifact(ctx, h.artifact.ID)
	require.NoError(t, err)
	stored.Status = model.StatusPublished
	stored.AuthorityScore = 0.91
	stored.SourceURLs = []string{"https://www.hse.gov.uk", "https://www.gassaferegister.co.uk"}
	require.NoError(t, h.store.UpdateArtifact(ctx, stored))

	_, err = h.store.CreateArtifact(ctx, &model.Artifact{
		SiteID: "site-1", SiloID: h.artifact.SiloID, Path: "/boiler-repair",
		Title: "Boiler Repair", Status: model.StatusPublished,
	})
	require.NoError(t, err)

	result, err := h.engine.Decommission(ctx, h.artifact.ID, "/Boiler-Repair/")
	require.NoError(t, err)
	assert.True(t, result.Decommissioned)
	assert.InDelta(t, 0.91, result.PreservedAuthority, 1e-9)
	assert.Len(t, result.PreservedSources, 2)
	assert.Equal(t, "/boiler-repair", result.Redirect)

	retired, err := h.store.GetArtifact(ctx, h.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDecommissioned, retired.Status)
	assert.InDelta(t, 0.91, retired.AuthorityScore, 1e-9)
	assert.Equal(t, stored.SourceURLs, retired.SourceURLs)
	assert.Equal(t, "/boiler-repair", retired.RedirectTo)
}

func TestDecommission_BlockedOnMissingRedirect(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)
	_, err := h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.NoError(t, err)

	stored, err := h.store.GetArtifact(ctx, h.artifact.ID)
	require.NoError(t, err)
	stored.Status = model.StatusPublished
	require.NoError(t, h.store.UpdateArtifact(ctx, stored))

	result, err := h.engine.Decommission(ctx, h.artifact.ID, "/never-created")
	require.NoError(t, err)
	assert.False(t, result.Decommissioned)
	assert.Equal(t, model.CodeRedirectTargetMissing, result.Decision.Results[gates.GateStatusEligibility].ErrorCode)

	unchanged, err := h.store.GetArtifact(ctx, h.artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, unchanged.Status)
}

func TestCheckGates_UsesCacheWithinWindow(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)
	_, err := h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.NoError(t, err)

	first, err := h.engine.CheckGates(ctx, h.artifact.ID)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := h.engine.CheckGates(ctx, h.artifact.ID)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.AllPassed, second.AllPassed)
}

func TestRun_NonDraftRejected(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()
	job := h.newJob(t)

	_, err := h.engine.Transition(ctx, job.ID, model.JobStatePreflightApproved, "advance")
	require.NoError(t, err)

	_, err = h.engine.Run(ctx, job.ID, GenerationRequest{})
	require.Error(t, err)
	assert.Equal(t, model.CodeStateConflict, model.CodeOf(err))
}
