package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/governor/internal/config"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite"},
		Generation: config.GenerationConfig{
			Key:   "sk-test",
			Model: "claude-sonnet-4-5-20250929",
		},
		Engine: config.EngineConfig{
			MaxRetries:          3,
			MaxCostUSD:          10.0,
			GateCacheTTLMinutes: 5,
		},
		Detector: config.DefaultDetectorConfig(),
		Scoring:  config.DefaultScoringConfig(),
		Gates: config.GatesConfig{
			Enabled: []string{"schema-sync", "status-eligibility"},
		},
		Toggles: config.TogglesConfig{
			GenerationEnabled: true,
			PublishEnabled:    true,
		},
		Monitoring: config.MonitoringConfig{LookbackHours: 24},
	}
}

// newTestServer wires a throwaway sqlite-backed environment behind the real
// router. The global cfg is swapped for the test config.
func newTestServer(t *testing.T) (*httptest.Server, *engineEnv) {
	t.Helper()
	ctx := context.Background()

	prev := cfg
	cfg = testConfig()
	t.Cleanup(func() { cfg = prev })

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))

	env, err := buildEnv(cfg, st)
	require.NoError(t, err)
	t.Cleanup(env.Close)

	ts := httptest.NewServer(newRouter(ctx, env))
	t.Cleanup(ts.Close)
	return ts, env
}

func seedSite(t *testing.T, env *engineEnv) string {
	t.Helper()
	ctx := context.Background()

	var siloID string
	for _, name := range []string{"services", "guides", "locations"} {
		silo, err := env.Store.CreateSilo(ctx, &model.Silo{SiteID: "site-1", Name: name})
		require.NoError(t, err)
		siloID = silo.ID
	}
	return siloID
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestServe_Health(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Healthy bool              `json:"healthy"`
		Checks  map[string]string `json:"checks"`
	}
	decodeInto(t, resp, &report)
	assert.True(t, report.Healthy)
	assert.Equal(t, "ok", report.Checks["store"])
}

func TestServe_MetricsSnapshot(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics/snapshot")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap struct {
		JobsTotal     int `json:"jobs_total"`
		LookbackHours int `json:"lookback_hours"`
	}
	decodeInto(t, resp, &snap)
	assert.Zero(t, snap.JobsTotal)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestServe_ValidateAndCreate(t *testing.T) {
	ts, env := newTestServer(t)
	siloID := seedSite(t, env)

	candidate := model.Artifact{
		SiteID:        "site-1",
		SiloID:        siloID,
		Path:          "/guides/boiler-maintenance",
		Title:         "Boiler Maintenance Guide",
		TargetKeyword: "boiler maintenance",
	}

	resp := postJSON(t, ts.URL+"/artifacts/validate", candidate)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Pass bool `json:"pass"`
	}
	decodeInto(t, resp, &result)
	assert.True(t, result.Pass)

	resp = postJSON(t, ts.URL+"/artifacts", candidate)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.Artifact
	decodeInto(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusDraft, created.Status)

	// A second artifact on the same path is a structural violation.
	resp = postJSON(t, ts.URL+"/artifacts", candidate)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var apiErr struct {
		Code string `json:"code"`
	}
	decodeInto(t, resp, &apiErr)
	assert.Equal(t, model.CodePathNotUnique, apiErr.Code)
}

func TestServe_BindKeyword(t *testing.T) {
	ts, env := newTestServer(t)
	siloID := seedSite(t, env)

	artifact, err := env.Store.CreateArtifact(context.Background(), &model.Artifact{
		SiteID: "site-1",
		SiloID: siloID,
		Path:   "/guides/radiator-bleeding",
		Title:  "Radiator Bleeding Guide",
	})
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/artifacts/"+artifact.ID+"/keyword", map[string]string{"keyword": "bleed a radiator"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var bound model.Artifact
	decodeInto(t, resp, &bound)
	assert.Equal(t, "bleed a radiator", bound.TargetKeyword)

	// Binding the same keyword again is idempotent.
	resp = postJSON(t, ts.URL+"/artifacts/"+artifact.ID+"/keyword", map[string]string{"keyword": "bleed a radiator"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	// Swapping to a different keyword is forbidden.
	resp = postJSON(t, ts.URL+"/artifacts/"+artifact.ID+"/keyword", map[string]string{"keyword": "radiator repair"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var apiErr struct {
		Code string `json:"code"`
	}
	decodeInto(t, resp, &apiErr)
	assert.Equal(t, model.CodeKeywordRebid, apiErr.Code)

	// An unknown artifact is a 404.
	resp = postJSON(t, ts.URL+"/artifacts/nope/keyword", map[string]string{"keyword": "anything"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestServe_JobLifecycle(t *testing.T) {
	ts, env := newTestServer(t)
	siloID := seedSite(t, env)

	artifact, err := env.Store.CreateArtifact(context.Background(), &model.Artifact{
		SiteID: "site-1",
		SiloID: siloID,
		Path:   "/guides/boiler-repair",
		Title:  "Boiler Repair Guide",
	})
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/jobs", map[string]string{"artifact_id": artifact.ID})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var job model.GenerationJob
	decodeInto(t, resp, &job)
	assert.Equal(t, model.JobStateDraft, job.State)

	resp = postJSON(t, ts.URL+"/jobs/"+job.ID+"/cancel", map[string]string{"reason": "test"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	// Cancelling a terminal job conflicts.
	resp = postJSON(t, ts.URL+"/jobs/"+job.ID+"/cancel", map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	getResp, err := http.Get(ts.URL + "/jobs/" + job.ID + "/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	var events []model.AuditEvent
	decodeInto(t, getResp, &events)
	require.NotEmpty(t, events)
	assert.Equal(t, model.AuditStateTransition, events[0].EventType)
}

func TestServe_GatesAndPublish(t *testing.T) {
	ts, env := newTestServer(t)
	siloID := seedSite(t, env)

	artifact, err := env.Store.CreateArtifact(context.Background(), &model.Artifact{
		SiteID: "site-1",
		SiloID: siloID,
		Path:   "/guides/heat-pumps",
		Title:  "Heat Pump Guide",
	})
	require.NoError(t, err)

	// Inspection passes: status eligibility does not apply to inspection.
	resp, err := http.Get(ts.URL + "/artifacts/" + artifact.ID + "/gates")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var decision struct {
		AllPassed bool `json:"all_passed"`
	}
	decodeInto(t, resp, &decision)
	assert.True(t, decision.AllPassed)

	// Publish is blocked: a draft artifact is not approval-eligible.
	pubResp := postJSON(t, ts.URL+"/artifacts/"+artifact.ID+"/publish", struct{}{})
	assert.Equal(t, http.StatusConflict, pubResp.StatusCode)
	var result struct {
		Published bool `json:"published"`
	}
	decodeInto(t, pubResp, &result)
	assert.False(t, result.Published)
}

func TestServe_UnknownArtifactIs404(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/artifacts/no-such-id/gates")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestServe_BadBodyIs400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/artifacts/validate", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}
