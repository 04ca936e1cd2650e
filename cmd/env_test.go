package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "leads.db")},
		Anthropic: config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 512},
		Scoring: config.ScoringConfig{
			TimeoutSecs: 5, Temperature: 0.3, RatePerSecond: 5, Burst: 10, MaxAttempts: 2,
			BreakerThreshold: 5, BreakerResetSecs: 30, DetachedTimeout: 30,
		},
		Normalize: config.NormalizeConfig{DefaultCountryCode: "91"},
		Log:       config.LogConfig{Level: "info", Format: "json"},
	}
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	_, err := initStore(context.Background(), config.StoreConfig{Driver: "mysql", DatabaseURL: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver: mysql")
}

func TestInitStore_SQLite(t *testing.T) {
	st, err := initStore(context.Background(), config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestInitEnv_HeuristicOnly(t *testing.T) {
	c := sqliteConfig(t)
	env, err := initEnv(context.Background(), c)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Ingest)
	assert.Equal(t, 70, env.Scorer.PlaceholderScore("general"))
}


func TestInitSentry_NoDSN(t *testing.T) {
	flush, err := initSentry(config.SentryConfig{})
	require.NoError(t, err)
	flush()
}

func TestIngestAndRescoreCommands(t *testing.T) {
	t.Chdir(t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("LEADS_STORE_DRIVER", "sqlite")
	t.Setenv("LEADS_STORE_DATABASE_URL", dbPath)
	t.Setenv("LEADS_ANTHROPIC_KEY", "")

	body := `{"field_data": [{"name": "full_name", "values": ["Asha Rao"]}, {"name": "email", "values": ["a@b.com"]}, {"name": "budget", "values": ["60L"]}]}`
	payload := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(payload, []byte(body), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"ingest", "--tenant", "tenant-1", "--source", "meta_ads", "--file", payload})
	require.NoError(t, rootCmd.Execute())

	var res model.IngestResult
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &res))
	assert.Equal(t, model.OutcomeCreated, res.Outcome)

	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	lead, err := st.GetLead(context.Background(), res.LeadID)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.Equal(t, "Asha Rao", lead.Name)
	// name 10 + email 15 + budget 10
	assert.Equal(t, 85, lead.QualityScore)
	assert.Equal(t, model.ScoreMethodHeuristic, lead.AIAnalysis.Method)

	out.Reset()
	rootCmd.SetArgs([]string{"rescore", "--fallback", "--tenant", "tenant-1"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "score retries: attempted=0")
	assert.Contains(t, out.String(), "heuristic leads: attempted=1 succeeded=1")
}
