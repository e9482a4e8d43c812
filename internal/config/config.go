package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Detector   DetectorConfig   `yaml:"detector" mapstructure:"detector"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Gates      GatesConfig      `yaml:"gates" mapstructure:"gates"`
	Toggles    TogglesConfig    `yaml:"toggles" mapstructure:"toggles"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GenerationConfig holds the content generation provider settings.
type GenerationConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	AttemptTimeout    int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// EngineConfig configures job budgets and publish-gate staleness bounds.
type EngineConfig struct {
	MaxRetries          int     `yaml:"max_retries" mapstructure:"max_retries"`
	MaxCostUSD          float64 `yaml:"max_cost_usd" mapstructure:"max_cost_usd"`
	GateCacheTTLMinutes int     `yaml:"gate_cache_ttl_minutes" mapstructure:"gate_cache_ttl_minutes"`
}

// GateCacheTTL returns the gate-result staleness window as a duration.
func (c EngineConfig) GateCacheTTL() time.Duration {
	return time.Duration(c.GateCacheTTLMinutes) * time.Minute
}

// DetectorConfig holds the conflict detector similarity thresholds. The
// constants are tunable; defaults are the verified baseline.
type DetectorConfig struct {
	TitleThreshold    float64 `yaml:"title_threshold" mapstructure:"title_threshold"`
	HeadingThreshold  float64 `yaml:"heading_threshold" mapstructure:"heading_threshold"`
	SlugThreshold     float64 `yaml:"slug_threshold" mapstructure:"slug_threshold"`
	MetaThreshold     float64 `yaml:"meta_threshold" mapstructure:"meta_threshold"`
	SemanticThreshold float64 `yaml:"semantic_threshold" mapstructure:"semantic_threshold"`
	ExactThreshold    float64 `yaml:"exact_threshold" mapstructure:"exact_threshold"`
	MinTokenLength    int     `yaml:"min_token_length" mapstructure:"min_token_length"`
	MinSignals        int     `yaml:"min_signals" mapstructure:"min_signals"`
}

// DefaultDetectorConfig returns the verified baseline thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		TitleThreshold:    0.7,
		HeadingThreshold:  0.7,
		SlugThreshold:     0.6,
		MetaThreshold:     0.6,
		SemanticThreshold: 0.85,
		ExactThreshold:    0.95,
		MinTokenLength:    3,
		MinSignals:        2,
	}
}

// ScoringConfig holds site health scoring tunables.
type ScoringConfig struct {
	ConflictPairDeduction float64 `yaml:"conflict_pair_deduction" mapstructure:"conflict_pair_deduction"`
	ConflictMultiplier    float64 `yaml:"conflict_multiplier" mapstructure:"conflict_multiplier"`
	MaxBonus              float64 `yaml:"max_bonus" mapstructure:"max_bonus"`
	PolicyFile            string  `yaml:"policy_file" mapstructure:"policy_file"`
}

// DefaultScoringConfig returns the verified baseline scoring tunables.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		ConflictPairDeduction: 8.0,
		ConflictMultiplier:    1.3,
		MaxBonus:              15.0,
	}
}

// GatesConfig selects which lifecycle gates are enforced.
type GatesConfig struct {
	Enabled             []string `yaml:"enabled" mapstructure:"enabled"`
	AllowedLinkDomains  []string `yaml:"allowed_link_domains" mapstructure:"allowed_link_domains"`
	MinAuthorityScore   float64  `yaml:"min_authority_score" mapstructure:"min_authority_score"`
	MinSourceURLs       int      `yaml:"min_source_urls" mapstructure:"min_source_urls"`
	PerformanceBudgetKB int      `yaml:"performance_budget_kb" mapstructure:"performance_budget_kb"`
}

// TogglesConfig holds explicit kill-switches passed into the engine at call
// time. Never ambient global state, so tests can exercise every combination.
type TogglesConfig struct {
	GenerationEnabled   bool `yaml:"generation_enabled" mapstructure:"generation_enabled"`
	PublishEnabled      bool `yaml:"publish_enabled" mapstructure:"publish_enabled"`
	SemanticScanEnabled bool `yaml:"semantic_scan_enabled" mapstructure:"semantic_scan_enabled"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures health checks and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SpendThresholdUSD    float64 `yaml:"spend_threshold_usd" mapstructure:"spend_threshold_usd"`
	BudgetAbsorbedMax    int     `yaml:"budget_absorbed_max" mapstructure:"budget_absorbed_max"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GOVERNOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("generation.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("generation.max_tokens", 8192)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.requests_per_minute", 30)
	v.SetDefault("generation.attempt_timeout_secs", 120)
	v.SetDefault("embedding.base_url", "https://api.jina.ai/v1/embeddings")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.enabled", true)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.max_cost_usd", 10.0)
	v.SetDefault("engine.gate_cache_ttl_minutes", 5)
	v.SetDefault("detector.title_threshold", 0.7)
	v.SetDefault("detector.heading_threshold", 0.7)
	v.SetDefault("detector.slug_threshold", 0.6)
	v.SetDefault("detector.meta_threshold", 0.6)
	v.SetDefault("detector.semantic_threshold", 0.85)
	v.SetDefault("detector.exact_threshold", 0.95)
	v.SetDefault("detector.min_token_length", 3)
	v.SetDefault("detector.min_signals", 2)
	v.SetDefault("scoring.conflict_pair_deduction", 8.0)
	v.SetDefault("scoring.conflict_multiplier", 1.3)
	v.SetDefault("scoring.max_bonus", 15.0)
	v.SetDefault("gates.enabled", []string{
		"governance-checks", "schema-sync", "embedding-present",
		"authority-sourcing", "content-structure", "status-eligibility",
	})
	v.SetDefault("gates.min_authority_score", 0)
	v.SetDefault("gates.min_source_urls", 1)
	v.SetDefault("gates.performance_budget_kb", 512)
	v.SetDefault("toggles.generation_enabled", true)
	v.SetDefault("toggles.publish_enabled", true)
	v.SetDefault("toggles.semantic_scan_enabled", true)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.spend_threshold_usd", 100.0)
	v.SetDefault("monitoring.budget_absorbed_max", 10)
	v.SetDefault("monitoring.lookback_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that required settings are present and sane for the given
// run mode. Returns an error listing every problem found.
func (c *Config) Validate(mode string) error {
	var problems []string

	needDB := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	switch mode {
	case "run":
		needDB()
		if c.Generation.Key == "" {
			problems = append(problems, "generation.key is required")
		}
	case "serve":
		needDB()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "migrate", "audit", "report", "status", "maintenance", "validate", "gates", "silo", "jobs", "publish", "decommission":
		needDB()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Engine.MaxRetries < 1 || c.Engine.MaxRetries > 10 {
		problems = append(problems, "engine.max_retries must be between 1 and 10")
	}
	if c.Engine.MaxCostUSD <= 0 {
		problems = append(problems, "engine.max_cost_usd must be > 0")
	}
	if c.Engine.GateCacheTTLMinutes <= 0 {
		problems = append(problems, "engine.gate_cache_ttl_minutes must be > 0")
	}
	for name, th := range map[string]float64{
		"detector.title_threshold":    c.Detector.TitleThreshold,
		"detector.heading_threshold":  c.Detector.HeadingThreshold,
		"detector.slug_threshold":     c.Detector.SlugThreshold,
		"detector.meta_threshold":     c.Detector.MetaThreshold,
		"detector.semantic_threshold": c.Detector.SemanticThreshold,
		"detector.exact_threshold":    c.Detector.ExactThreshold,
	} {
		if th <= 0 || th > 1 {
			problems = append(problems, name+" must be in (0, 1]")
		}
	}
	if c.Detector.MinSignals < 1 {
		problems = append(problems, "detector.min_signals must be >= 1")
	}
	if len(c.Gates.Enabled) == 0 {
		problems = append(problems, "gates.enabled must name at least one gate")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
