package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CONFIG_FILE", "PORT", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL", "REDIS_TTL",
	"LOG_LEVEL", "PRICE_REFRESH_CRON", "MARKET_DATA_PROVIDERS", "MARKET_DATA_ALLOWED",
	"EODHD_API_KEY", "EODHD_BASE_URL", "YFINANCE_RPS", "EODHD_RPS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"demo"}, cfg.MarketData.Providers)
	assert.Equal(t, []string{"demo", "eodhd", "yfinance"}, cfg.MarketData.Allowed)
	assert.Equal(t, 30*time.Second, cfg.RedisTTL)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Empty(t, cfg.RefreshCron)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
log_level: debug
redis_ttl: 1m
refresh_cron: "0 30 22 * * MON-FRI"
market_data:
  providers: [eodhd, demo]
  eodhd_api_key: from-file
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("MARKET_DATA_PROVIDERS", "yfinance, demo")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port, "env wins")
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, time.Minute, cfg.RedisTTL)
	assert.Equal(t, "0 30 22 * * MON-FRI", cfg.RefreshCron)
	assert.Equal(t, []string{"yfinance", "demo"}, cfg.MarketData.Providers)
	assert.Equal(t, "from-file", cfg.MarketData.EODHDAPIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	cases := map[string]string{
		"unknown provider":    "market_data:\n  providers: [bloomberg]\n",
		"unknown allowed":     "market_data:\n  allowed: [demo, bloomberg]\n",
		"default not allowed": "market_data:\n  providers: [eodhd]\n  allowed: [demo]\n",
		"empty chain":         "market_data:\n  providers: []\n",
		"bad log level":       "log_level: loud\n",
		"bad ttl":             "redis_ttl: 0s\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestRegistryFromConfig(t *testing.T) {
	cfg, err := Parse([]byte("market_data:\n  providers: [EODHD, demo]\n"))
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"eodhd", "demo"}, reg.Defaults())
}
