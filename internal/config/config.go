// Package config provides environment-aware configuration management: an
// optional godotenv-backed file load, getEnv/getIntEnv/getBoolEnv helpers,
// and a Validate pass covering the knobs this system actually needs —
// provider credentials and limits, the store DSN, and the scheduler/log
// tuning.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/r3e-network/agentcustody/internal/domain"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds every environment-derived setting the composition root needs.
type Config struct {
	Env Environment

	// Store
	DatabaseURL string // empty selects the in-memory store

	// LLMBroker providers
	PrimaryProvider    domain.Provider
	PrimaryProviderKey string
	PrimaryProviderURL string

	SecondaryProvider    domain.Provider
	SecondaryProviderKey string
	SecondaryProviderURL string

	// TokenGovernor
	MonthlyLimitPrimary   int64
	MonthlyLimitSecondary int64

	// AgentScheduler
	MaxConcurrentAgents int
	SchedulerConfigPath string // optional JSON file of per-agent interval/timeout/retry overrides

	// Logging
	LogLevel  string
	LogFormat string

	// Telemetry (ambient ops scaffolding: /metrics and /healthz only)
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads AGENTCUSTODY_ENV (default development), optionally loads a
// same-named .env file, then populates Config from the process environment.
func Load() (*Config, error) {
	envStr := getEnv("AGENTCUSTODY_ENV", string(Development))
	env := Environment(envStr)
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid AGENTCUSTODY_ENV: %s (must be development, testing, or production)", envStr)
	}

	envFile := fmt.Sprintf("config/%s.env", env)
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("warning: could not load %s: %v\n", envFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.DatabaseURL = getEnv("DATABASE_URL", "")

	c.PrimaryProvider = domain.Provider(getEnv("PRIMARY_PROVIDER", "primary"))
	c.PrimaryProviderKey = getEnv("PRIMARY_PROVIDER_KEY", "")
	c.PrimaryProviderURL = getEnv("PRIMARY_PROVIDER_URL", "")

	c.SecondaryProvider = domain.Provider(getEnv("SECONDARY_PROVIDER", "secondary"))
	c.SecondaryProviderKey = getEnv("SECONDARY_PROVIDER_KEY", "")
	c.SecondaryProviderURL = getEnv("SECONDARY_PROVIDER_URL", "")

	limitPrimary, err := getInt64Env("MONTHLY_LIMIT_PRIMARY", 140_000)
	if err != nil {
		return fmt.Errorf("invalid MONTHLY_LIMIT_PRIMARY: %w", err)
	}
	c.MonthlyLimitPrimary = limitPrimary

	limitSecondary, err := getInt64Env("MONTHLY_LIMIT_SECONDARY", 140_000)
	if err != nil {
		return fmt.Errorf("invalid MONTHLY_LIMIT_SECONDARY: %w", err)
	}
	c.MonthlyLimitSecondary = limitSecondary

	c.MaxConcurrentAgents = getIntEnv("MAX_CONCURRENT_AGENTS", 2)
	c.SchedulerConfigPath = getEnv("SCHEDULER_CONFIG_PATH", "")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production || c.Env == Development)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	return nil
}

// IsProduction reports whether the loaded environment is production.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate enforces production-only constraints and sane numeric ranges.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.PrimaryProviderKey == "" {
			return fmt.Errorf("PRIMARY_PROVIDER_KEY is required in production")
		}
	}
	if c.MonthlyLimitPrimary <= 0 || c.MonthlyLimitSecondary <= 0 {
		return fmt.Errorf("monthly token limits must be positive")
	}
	if c.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_AGENTS must be positive")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d", c.MetricsPort)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
