package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.InDelta(t, 10.0, cfg.Engine.MaxCostUSD, 0.001)
	assert.Equal(t, 5, cfg.Engine.GateCacheTTLMinutes)
	assert.InDelta(t, 0.7, cfg.Detector.TitleThreshold, 0.001)
	assert.InDelta(t, 0.7, cfg.Detector.HeadingThreshold, 0.001)
	assert.InDelta(t, 0.6, cfg.Detector.SlugThreshold, 0.001)
	assert.InDelta(t, 0.6, cfg.Detector.MetaThreshold, 0.001)
	assert.InDelta(t, 0.95, cfg.Detector.ExactThreshold, 0.001)
	assert.InDelta(t, 0.85, cfg.Detector.SemanticThreshold, 0.001)
	assert.Equal(t, 2, cfg.Detector.MinSignals)
	assert.Equal(t, 3, cfg.Detector.MinTokenLength)
	assert.InDelta(t, 15.0, cfg.Scoring.MaxBonus, 0.001)
	assert.InDelta(t, 1.3, cfg.Scoring.ConflictMultiplier, 0.001)
	assert.Len(t, cfg.Gates.Enabled, 6)
	assert.Contains(t, cfg.Gates.Enabled, "schema-sync")
	assert.True(t, cfg.Toggles.GenerationEnabled)
	assert.True(t, cfg.Toggles.PublishEnabled)
	assert.True(t, cfg.Embedding.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
engine:
  max_retries: 5
toggles:
  generation_enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.False(t, cfg.Toggles.GenerationEnabled)
	// Defaults still apply for unset values
	assert.InDelta(t, 10.0, cfg.Engine.MaxCostUSD, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GOVERNOR_STORE_DRIVER", "postgres")
	t.Setenv("GOVERNOR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GOVERNOR_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "postgres://localhost/governor"
	cfg.Server.Port = 8080
	cfg.Engine.MaxRetries = 3
	cfg.Engine.MaxCostUSD = 10.0
	cfg.Engine.GateCacheTTLMinutes = 5
	cfg.Detector.TitleThreshold = 0.7
	cfg.Detector.HeadingThreshold = 0.7
	cfg.Detector.SlugThreshold = 0.6
	cfg.Detector.MetaThreshold = 0.6
	cfg.Detector.SemanticThreshold = 0.85
	cfg.Detector.ExactThreshold = 0.95
	cfg.Detector.MinSignals = 2
	cfg.Gates.Enabled = []string{"status-eligibility"}
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Generation.Key = "sk-ant-key"

	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "generation.key is required")
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBudgetBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Engine.MaxRetries = 0
	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "engine.max_retries must be between 1 and 10")

	cfg.Engine.MaxRetries = 11
	err = cfg.Validate("migrate")
	assert.Error(t, err)

	cfg.Engine.MaxRetries = 3
	cfg.Engine.MaxCostUSD = 0
	err = cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "engine.max_cost_usd must be > 0")
}

func TestValidateDetectorThresholds(t *testing.T) {
	cfg := validDefaults()

	cfg.Detector.TitleThreshold = 1.5
	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "detector.title_threshold")

	cfg.Detector.TitleThreshold = 0.7
	cfg.Detector.MinSignals = 0
	err = cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "detector.min_signals must be >= 1")
}

func TestValidateGatesRequired(t *testing.T) {
	cfg := validDefaults()
	cfg.Gates.Enabled = nil

	err := cfg.Validate("gates")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "gates.enabled must name at least one gate")
}
