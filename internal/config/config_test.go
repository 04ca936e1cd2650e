package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(1024), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 10, cfg.Scoring.TimeoutSecs)
	assert.InDelta(t, 0.3, cfg.Scoring.Temperature, 0.001)
	assert.Equal(t, 60, cfg.Scoring.DetachedTimeout)
	assert.Equal(t, "91", cfg.Normalize.DefaultCountryCode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Webhooks.GoogleKey)
	assert.Empty(t, cfg.Sentry.DSN)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.5, cfg.Monitoring.FallbackRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: leads.db
webhooks:
  verify_token: hub-secret
  google_key: g-key
normalize:
  default_country_code: "44"
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leads.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "hub-secret", cfg.Webhooks.VerifyToken)
	assert.Equal(t, "g-key", cfg.Webhooks.GoogleKey)
	assert.Equal(t, "44", cfg.Normalize.DefaultCountryCode)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Scoring.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("LEADS_STORE_DRIVER", "postgres")
	t.Setenv("LEADS_LOG_LEVEL", "warn")
	t.Setenv("LEADS_WEBHOOKS_VERIFY_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Webhooks.VerifyToken)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEADS_SCORING_TIMEOUT_SECS=4\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("LEADS_SCORING_TIMEOUT_SECS") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scoring.TimeoutSecs)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/leads"
	cfg.Webhooks.VerifyToken = "hub-secret"
	return cfg
}

func TestValidateServe(t *testing.T) {
	cfg := validConfig(t)
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_MissingVerifyToken(t *testing.T) {
	cfg := validConfig(t)
	cfg.Webhooks.VerifyToken = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhooks.verify_token is required")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store.DatabaseURL = ""
	cfg.Store.Driver = "mysql"
	cfg.Server.Port = 0
	cfg.Scoring.Temperature = 1.5

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "store.driver must be one of postgres sqlite")
	assert.Contains(t, err.Error(), "server.port failed gt=0")
	assert.Contains(t, err.Error(), "scoring.temperature failed lte=1")
}

func TestValidateMigrate_OnlyNeedsStore(t *testing.T) {
	cfg := validConfig(t)
	cfg.Webhooks.VerifyToken = ""
	cfg.Anthropic.Model = ""

	assert.NoError(t, cfg.Validate("migrate"))
	assert.Error(t, cfg.Validate("rescore"))
}

func TestValidate_CountryCode(t *testing.T) {
	cfg := validConfig(t)
	cfg.Normalize.DefaultCountryCode = "+91"

	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "normalize.default_country_code")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validConfig(t)
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
