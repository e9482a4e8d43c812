package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate   AlertType = "job_failure_rate"
	AlertBudgetAbsorption AlertType = "budget_absorption"
	AlertSpendThreshold   AlertType = "spend_threshold"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Failure rate needs a floor of finished jobs before it means anything.
	finished := snap.JobsCompleted + snap.JobsFailed + snap.JobsAbsorbed
	if finished >= 5 && snap.JobFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Job failure rate %.1f%% exceeds threshold %.1f%% (%d failed+absorbed / %d finished in last %dh)",
				snap.JobFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.JobsFailed+snap.JobsAbsorbed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"fail_rate": snap.JobFailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.JobsFailed,
				"absorbed":  snap.JobsAbsorbed,
				"finished":  finished,
			},
			Timestamp: now,
		})
	}

	// Absorbed jobs signal systematic generation trouble: every one burned a
	// full retry budget.
	if a.cfg.BudgetAbsorbedMax > 0 && snap.JobsAbsorbed > a.cfg.BudgetAbsorbedMax {
		alerts = append(alerts, Alert{
			Type:     AlertBudgetAbsorption,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d job(s) exhausted their retry budget in last %dh (threshold %d)",
				snap.JobsAbsorbed, snap.LookbackHours, a.cfg.BudgetAbsorbedMax,
			),
			Details: map[string]any{
				"absorbed":  snap.JobsAbsorbed,
				"threshold": a.cfg.BudgetAbsorbedMax,
			},
			Timestamp: now,
		})
	}

	if a.cfg.SpendThresholdUSD > 0 && snap.TotalCostUSD > a.cfg.SpendThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertSpendThreshold,
			Severity: "high",
			Message: fmt.Sprintf(
				"Generation spend $%.2f exceeds threshold $%.2f in last %dh",
				snap.TotalCostUSD, a.cfg.SpendThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.TotalCostUSD,
				"threshold_usd": a.cfg.SpendThresholdUSD,
				"jobs_total":    snap.JobsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
