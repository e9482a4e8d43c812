package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/governor/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.25,
		SpendThresholdUSD:    50.0,
		BudgetAbsorbedMax:    2,
		LookbackHours:        24,
	}
}

func TestEvaluate_NoAlertsWhenHealthy(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{
		JobsCompleted: 10,
		JobsFailed:    1,
		JobFailRate:   1.0 / 11.0,
		TotalCostUSD:  12.0,
		LookbackHours: 24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluate_FailureRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		JobsCompleted: 4,
		JobsFailed:    3,
		JobsAbsorbed:  1,
		JobFailRate:   0.5,
		LookbackHours: 24,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertJobFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)

	// Below the finished-jobs floor the rate is noise, not a signal.
	snap.JobsCompleted, snap.JobsFailed, snap.JobsAbsorbed = 1, 2, 0
	assert.Empty(t, a.Evaluate(snap))
}

func TestEvaluate_BudgetAbsorption(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{
		JobsCompleted: 20,
		JobsAbsorbed:  3,
		JobFailRate:   3.0 / 23.0,
		LookbackHours: 24,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBudgetAbsorption, alerts[0].Type)
}

func TestEvaluate_SpendThreshold(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{
		JobsCompleted: 30,
		TotalCostUSD:  75.0,
		LookbackHours: 24,
	}
	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSpendThreshold, alerts[0].Type)
	assert.InDelta(t, 75.0, alerts[0].Details["cost_usd"], 1e-9)
}

func TestEvaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(thresholds())
	snap := &MetricsSnapshot{
		JobsCompleted: 2,
		JobsFailed:    5,
		JobsAbsorbed:  3,
		JobFailRate:   0.8,
		TotalCostUSD:  90.0,
		LookbackHours: 24,
	}
	assert.Len(t, a.Evaluate(snap), 3)
}

func TestSendAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := thresholds()
	cfg.WebhookURL = ts.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertSpendThreshold, Severity: "high", Message: "spend"},
		{Type: AlertJobFailureRate, Severity: "high", Message: "failures"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestSendAlerts_WebhookFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	cfg := thresholds()
	cfg.WebhookURL = ts.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertSpendThreshold}})
	assert.Zero(t, sent)
}

func TestSendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(thresholds())
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertSpendThreshold}}))
}
