package gates

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagemill/governor/internal/config"
	"github.com/pagemill/governor/internal/model"
	"github.com/pagemill/governor/internal/store"
)

// Decision is the aggregated outcome of a gate run. All-or-nothing: a single
// failed gate blocks the action.
type Decision struct {
	AllPassed bool                        `json:"all_passed"`
	Results   map[string]model.GateResult `json:"gates"`
	CheckedAt time.Time                   `json:"checked_at"`
	FromCache bool                        `json:"from_cache,omitempty"`
}

// FailedGates returns the names of every failed gate, sorted for stable
// output.
func (d *Decision) FailedGates() []string {
	var out []string
	for name, r := range d.Results {
		if !r.Passed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Violations itemizes every failed gate so callers can remediate without
// guessing.
func (d *Decision) Violations() []model.Violation {
	var out []model.Violation
	for _, name := range d.FailedGates() {
		r := d.Results[name]
		out = append(out, model.Violation{Code: r.ErrorCode, Check: name, Detail: r.Detail})
	}
	return out
}

// Err returns nil when all gates passed, otherwise a gate error naming the
// failures.
func (d *Decision) Err() error {
	if d.AllPassed {
		return nil
	}
	return model.NewGate(model.CodeGateFailed,
		fmt.Sprintf("gates failed: %s", strings.Join(d.FailedGates(), ", ")))
}

// Manager evaluates the configured gate set against an artifact.
type Manager struct {
	gates []Gate
	store store.Store
}

// NewManager builds a manager from the configured gate names. An unknown gate
// name is a configuration error, not a silent skip.
func NewManager(cfg config.GatesConfig, st store.Store) (*Manager, error) {
	registry := map[string]Gate{
		GateGovernanceChecks:       governanceChecksGate{},
		GateSchemaSync:             schemaSyncGate{},
		GateEmbeddingPresent:       embeddingPresentGate{},
		GateAuthoritySourcing:      authoritySourcingGate{minScore: cfg.MinAuthorityScore, minSources: cfg.MinSourceURLs},
		GateContentStructure:       contentStructureGate{},
		GateStatusEligibility:      statusEligibilityGate{},
		GateExperienceVerification: experienceVerificationGate{},
		GateGeoFormatting:          geoFormattingGate{},
		GatePerformanceBudget:      performanceBudgetGate{budgetKB: cfg.PerformanceBudgetKB},
		GateMediaIntegrity:         mediaIntegrityGate{},
	}

	m := &Manager{store: st}
	seen := make(map[string]struct{})
	for _, name := range cfg.Enabled {
		g, ok := registry[name]
		if !ok {
			return nil, eris.Errorf("gates: unknown gate %q", name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		m.gates = append(m.gates, g)
	}
	if len(m.gates) == 0 {
		return nil, eris.New("gates: no gates enabled")
	}
	return m, nil
}

// CheckAll evaluates every configured gate concurrently and aggregates the
// results. Gate evaluation is read-only, so concurrency is safe.
func (m *Manager) CheckAll(ctx context.Context, artifact *model.Artifact, action Action, redirect string) (*Decision, error) {
	ec := EvalContext{Artifact: artifact, Action: action, Redirect: redirect, Store: m.store}

	var mu sync.Mutex
	results := make(map[string]model.GateResult, len(m.gates))

	g, gctx := errgroup.WithContext(ctx)
	for _, gate := range m.gates {
		gate := gate
		g.Go(func() error {
			r := gate.Evaluate(gctx, ec)
			mu.Lock()
			results[gate.Name()] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "gates: evaluation")
	}

	decision := &Decision{Results: results, AllPassed: true, CheckedAt: time.Now().UTC()}
	for _, r := range results {
		if !r.Passed {
			decision.AllPassed = false
		}
	}

	zap.L().Debug("gates: evaluated",
		zap.String("artifact_id", artifact.ID),
		zap.String("action", string(action)),
		zap.Bool("all_passed", decision.AllPassed),
		zap.Strings("failed", decision.FailedGates()),
	)
	return decision, nil
}

// CheckCached serves an inspection read from the store-backed cache when a
// complete, fresh result set exists; otherwise it re-evaluates and refreshes
// the cache. Publish and decommission must never use this path.
func (m *Manager) CheckCached(ctx context.Context, artifact *model.Artifact, ttl time.Duration) (*Decision, error) {
	cached, err := m.store.GetGateResults(ctx, artifact.ID)
	if err != nil {
		return nil, err
	}
	if d, ok := m.fromCache(cached, ttl); ok {
		return d, nil
	}

	decision, err := m.CheckAll(ctx, artifact, ActionInspect, "")
	if err != nil {
		return nil, err
	}

	flat := make([]model.GateResult, 0, len(decision.Results))
	for _, r := range decision.Results {
		flat = append(flat, r)
	}
	if err := m.store.SaveGateResults(ctx, artifact.ID, flat); err != nil {
		zap.L().Warn("gates: cache refresh failed", zap.String("artifact_id", artifact.ID), zap.Error(err))
	}
	return decision, nil
}

// fromCache rebuilds a decision from cached results if every configured gate
// is present and none is past the staleness window.
func (m *Manager) fromCache(cached []model.GateResult, ttl time.Duration) (*Decision, bool) {
	byName := make(map[string]model.GateResult, len(cached))
	now := time.Now().UTC()
	for _, r := range cached {
		if r.StaleAfter(ttl, now) {
			return nil, false
		}
		byName[r.Gate] = r
	}

	decision := &Decision{Results: make(map[string]model.GateResult, len(m.gates)), AllPassed: true, FromCache: true}
	oldest := now
	for _, gate := range m.gates {
		r, ok := byName[gate.Name()]
		if !ok {
			return nil, false
		}
		decision.Results[gate.Name()] = r
		if !r.Passed {
			decision.AllPassed = false
		}
		if r.CheckedAt.Before(oldest) {
			oldest = r.CheckedAt
		}
	}
	decision.CheckedAt = oldest
	return decision, true
}
