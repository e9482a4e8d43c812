package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pagemill/governor/internal/audit"
	"github.com/pagemill/governor/internal/config"
	"github.com/pagemill/governor/internal/conflict"
	"github.com/pagemill/governor/internal/engine"
	"github.com/pagemill/governor/internal/gates"
	"github.com/pagemill/governor/internal/monitoring"
	"github.com/pagemill/governor/internal/store"
	"github.com/pagemill/governor/internal/validate"
	"github.com/pagemill/governor/pkg/embedding"
	"github.com/pagemill/governor/pkg/generation"
)

// engineEnv holds the initialized store, validators, and engine shared by
// the run/jobs/publish/serve commands.
type engineEnv struct {
	Store    store.Store
	Recorder *audit.Recorder
	Detector *conflict.Detector
	Scorer   *conflict.Scorer
	Gates    *gates.Manager
	Engine   *engine.Engine
	Checker  *monitoring.Checker
}

// Close flushes pending audit events and releases the store.
func (e *engineEnv) Close() {
	if e.Recorder != nil {
		e.Recorder.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "governor.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine validates config for the given mode, opens the store, and wires
// the full decision engine. Callers should defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires the engine on top of an already-migrated store. Split from
// initEngine so tests can inject a throwaway store.
func buildEnv(c *config.Config, st store.Store) (*engineEnv, error) {
	rec := audit.NewRecorder(st, st)

	detCfg := c.Detector
	scorer := conflict.NewScorer(c.Scoring)
	if c.Scoring.PolicyFile != "" {
		policy, err := conflict.LoadPolicy(c.Scoring.PolicyFile)
		if err != nil {
			zap.L().Warn("policy file not loaded, using baseline tunables", zap.Error(err))
		} else {
			scorer.ApplyPolicy(policy)
			if policy.Detector != nil {
				detCfg = *policy.Detector
			}
		}
	}
	det := conflict.NewDetector(detCfg, c.Toggles.SemanticScanEnabled)

	gm, err := gates.NewManager(c.Gates, st)
	if err != nil {
		return nil, err
	}

	var embedder embedding.Provider = embedding.Noop{}
	if c.Embedding.Enabled && c.Embedding.Key != "" {
		embedder = embedding.NewClient(c.Embedding.Key,
			embedding.WithBaseURL(c.Embedding.BaseURL),
			embedding.WithModel(c.Embedding.Model),
		)
	}

	var limiter *rate.Limiter
	if c.Generation.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.Generation.RequestsPerMinute)), 1)
	}

	eng, err := engine.New(engine.Deps{
		Store:     st,
		Preflight: validate.NewPreflight(st, det, rec),
		Postcheck: validate.NewPostcheck(st, rec, c.Gates.AllowedLinkDomains),
		Gates:     gm,
		Recorder:  rec,
		Generator: generation.NewClient(c.Generation.Key,
			generation.WithModel(c.Generation.Model),
			generation.WithMaxTokens(c.Generation.MaxTokens),
		),
		Embedder: embedder,
		Limiter:  limiter,
		Engine:   c.Engine,
		Toggles:  c.Toggles,
	})
	if err != nil {
		return nil, err
	}

	return &engineEnv{
		Store:    st,
		Recorder: rec,
		Detector: det,
		Scorer:   scorer,
		Gates:    gm,
		Engine:   eng,
		Checker:  monitoring.NewChecker(st, c.Generation, c.Embedding),
	}, nil
}

// attemptTimeout converts the configured per-attempt timeout, falling back
// to the engine default when unset.
func attemptTimeout(c config.GenerationConfig) time.Duration {
	if c.AttemptTimeout <= 0 {
		return engine.DefaultAttemptTimeout
	}
	return time.Duration(c.AttemptTimeout) * time.Second
}
