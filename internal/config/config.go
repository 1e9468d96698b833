// Package config loads service configuration from an optional YAML file,
// a .env file and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/atmx/portfolio-engine/internal/marketdata"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds service configuration.
type Config struct {
	Port        string        `yaml:"port"`
	DatabaseURL string        `yaml:"database_url"` // Postgres; takes priority over SQLitePath
	SQLitePath  string        `yaml:"sqlite_path"`  // local file store; empty = in-memory
	RedisURL    string        `yaml:"redis_url"`
	RedisTTL    time.Duration `yaml:"redis_ttl"`
	LogLevel    string        `yaml:"log_level"`

	MarketData MarketData `yaml:"market_data"`

	// RefreshCron schedules the EOD refresh (seconds field first); empty disables it.
	RefreshCron string `yaml:"refresh_cron"`
}

// MarketData configures the provider registry.
type MarketData struct {
	Providers    []string `yaml:"providers"` // default chain, in order
	Allowed      []string `yaml:"allowed"`
	EODHDAPIKey  string   `yaml:"eodhd_api_key"`
	EODHDBaseURL string   `yaml:"eodhd_base_url"`
	YFinanceRPS  float64  `yaml:"yfinance_rps"`
	EODHDRPS     float64  `yaml:"eodhd_rps"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:     "8080",
		RedisTTL: 30 * time.Second,
		LogLevel: "info",
		MarketData: MarketData{
			Providers:    []string{marketdata.Demo},
			Allowed:      marketdata.Known(),
			EODHDBaseURL: marketdata.DefaultEODHDBaseURL,
			YFinanceRPS:  2,
			EODHDRPS:     5,
		},
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the
// environment, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a configuration from YAML over the defaults, without
// consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisTTL = getEnvAsDuration("REDIS_TTL", c.RedisTTL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.RefreshCron = getEnv("PRICE_REFRESH_CRON", c.RefreshCron)

	md := &c.MarketData
	md.Providers = getEnvAsList("MARKET_DATA_PROVIDERS", md.Providers)
	md.Allowed = getEnvAsList("MARKET_DATA_ALLOWED", md.Allowed)
	md.EODHDAPIKey = getEnv("EODHD_API_KEY", md.EODHDAPIKey)
	md.EODHDBaseURL = getEnv("EODHD_BASE_URL", md.EODHDBaseURL)
	md.YFinanceRPS = getEnvAsFloat("YFINANCE_RPS", md.YFinanceRPS)
	md.EODHDRPS = getEnvAsFloat("EODHD_RPS", md.EODHDRPS)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidConfig)
	}
	if c.RedisTTL <= 0 {
		return fmt.Errorf("%w: redis_ttl must be positive", ErrInvalidConfig)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	md := c.MarketData
	if len(md.Providers) == 0 {
		return fmt.Errorf("%w: at least one market data provider is required", ErrInvalidConfig)
	}
	allowed := make(map[string]struct{}, len(md.Allowed))
	for _, name := range md.Allowed {
		if !marketdata.IsKnown(name) {
			return fmt.Errorf("%w: unsupported market data provider in allow-list: %s", ErrInvalidConfig, name)
		}
		allowed[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	for _, name := range md.Providers {
		if !marketdata.IsKnown(name) {
			return fmt.Errorf("%w: unsupported market data provider: %s", ErrInvalidConfig, name)
		}
		if _, ok := allowed[strings.ToLower(strings.TrimSpace(name))]; !ok {
			return fmt.Errorf("%w: default provider %s is not in the allow-list", ErrInvalidConfig, name)
		}
	}
	if md.YFinanceRPS <= 0 || md.EODHDRPS <= 0 {
		return fmt.Errorf("%w: provider rate limits must be positive", ErrInvalidConfig)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// ProviderOptions returns the settings the provider constructors need.
func (c *Config) ProviderOptions() marketdata.Options {
	return marketdata.Options{
		EODHDAPIKey:  c.MarketData.EODHDAPIKey,
		EODHDBaseURL: c.MarketData.EODHDBaseURL,
		YFinanceRPS:  c.MarketData.YFinanceRPS,
		EODHDRPS:     c.MarketData.EODHDRPS,
	}
}

// Registry builds the provider registry described by the configuration.
func (c *Config) Registry() (*marketdata.Registry, error) {
	return marketdata.NewRegistry(c.ProviderOptions(), c.MarketData.Allowed, c.MarketData.Providers)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList reads a comma-separated list; blanks are dropped.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
