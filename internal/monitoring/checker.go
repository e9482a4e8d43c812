package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pagemill/governor/internal/config"
	"github.com/pagemill/governor/internal/store"
)

// HealthReport summarizes the engine's dependencies. Checks map component
// name to "ok" or a failure description.
type HealthReport struct {
	Healthy   bool              `json:"healthy"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Checker verifies the store connection and provider configuration.
type Checker struct {
	store      store.Store
	generation config.GenerationConfig
	embedding  config.EmbeddingConfig
}

// NewChecker creates a health checker.
func NewChecker(st store.Store, gen config.GenerationConfig, emb config.EmbeddingConfig) *Checker {
	return &Checker{store: st, generation: gen, embedding: emb}
}

// Check pings the store and verifies each provider is configured. Provider
// keys are never round-tripped to the provider here; a health probe must not
// spend tokens.
func (c *Checker) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Healthy:   true,
		Checks:    make(map[string]string),
		CheckedAt: time.Now().UTC(),
	}

	if err := c.store.Ping(ctx); err != nil {
		report.Healthy = false
		report.Checks["store"] = err.Error()
		zap.L().Warn("monitoring: store ping failed", zap.Error(err))
	} else {
		report.Checks["store"] = "ok"
	}

	if c.generation.Key == "" {
		report.Healthy = false
		report.Checks["generation"] = "api key not configured"
	} else {
		report.Checks["generation"] = "ok"
	}

	switch {
	case !c.embedding.Enabled:
		report.Checks["embedding"] = "disabled"
	case c.embedding.Key == "":
		report.Healthy = false
		report.Checks["embedding"] = "enabled but api key not configured"
	default:
		report.Checks["embedding"] = "ok"
	}

	return report
}
