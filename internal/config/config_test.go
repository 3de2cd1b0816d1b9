package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "APP_ENV", "DEPLOYMENT_MODE", "PROVIDER_ORDER", "REDIS_ADDR", "LEDGER_BACKEND", "PROVIDER_TIMEOUT", "PROVIDER_MAX_TOKENS"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.Production())
	assert.Equal(t, []string{"gemini", "openai", "openrouter", "anthropic"}, cfg.Providers.Order)
	assert.Equal(t, 25*time.Second, cfg.Providers.AttemptTimeout)
	assert.Equal(t, 2048, cfg.Providers.MaxTokens)
	assert.Equal(t, "sqlite", cfg.LedgerBackend)
	assert.Equal(t, int64(1), cfg.Coins.DiscoverCost)
}

func TestFromEnvConstrainedMode(t *testing.T) {
	t.Setenv("DEPLOYMENT_MODE", "Constrained")
	t.Setenv("PROVIDER_TIMEOUT", "")
	t.Setenv("PROVIDER_MAX_TOKENS", "")

	cfg := FromEnv()

	assert.Equal(t, 9*time.Second, cfg.Providers.AttemptTimeout)
	assert.Equal(t, 1024, cfg.Providers.MaxTokens)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PROVIDER_ORDER", " OpenRouter , gemini,,")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("MAX_MESSAGES", "not-a-number")

	cfg := FromEnv()

	assert.True(t, cfg.Production())
	assert.Equal(t, []string{"openrouter", "gemini"}, cfg.Providers.Order)
	assert.Equal(t, "redis", cfg.LedgerBackend)
	assert.Equal(t, 30*time.Second, cfg.Limits.RateWindow)
	assert.Equal(t, 50, cfg.Limits.MaxMessages)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}

func TestFanoutLogger(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := fanoutLogger(&stderr, &file, slog.LevelInfo)

	logger.Info("debit applied", "user_id", "u1")
	logger.Debug("hidden")

	require.Contains(t, stderr.String(), "debit applied")
	require.Contains(t, file.String(), `"user_id":"u1"`)
	assert.NotContains(t, stderr.String(), "hidden")
}
