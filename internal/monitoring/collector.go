// Package monitoring exposes operational visibility over the governance
// engine: job throughput and spend collection, health checks, and webhook
// alerting on threshold breaches.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
)

// MetricsSnapshot holds a point-in-time view of engine health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal     int                    `json:"jobs_total"`
	JobsByState   map[model.JobState]int `json:"jobs_by_state"`
	JobsCompleted int                    `json:"jobs_completed"`
	JobsFailed    int                    `json:"jobs_failed"`
	JobsAbsorbed  int                    `json:"jobs_absorbed"` // retry budget exhausted
	JobFailRate   float64                `json:"job_fail_rate"`
	TotalCostUSD  float64                `json:"total_cost_usd"`

	// Audit volume (within lookback window).
	AuditEvents int `json:"audit_events"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of engine metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	stats, err := c.store.JobStatsSince(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: job stats")
	}

	snap.JobsByState = stats.ByState
	snap.TotalCostUSD = stats.TotalCostUSD
	for state, n := range stats.ByState {
		snap.JobsTotal += n
		switch state {
		case model.JobStateCompleted:
			snap.JobsCompleted += n
		case model.JobStateFailed:
			snap.JobsFailed += n
		case model.JobStateRetryExceeded:
			snap.JobsAbsorbed += n
		}
	}

	// Absorbed jobs are failures for rate purposes; a stuck retry budget is
	// not a success mode.
	finished := snap.JobsCompleted + snap.JobsFailed + snap.JobsAbsorbed
	if finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed+snap.JobsAbsorbed) / float64(finished)
	}

	audits, err := c.store.CountAuditSince(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count audit events")
	}
	snap.AuditEvents = audits

	return snap, nil
}
