package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the DeepDrill gateway.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Credits  CreditsConfig
	Billing  BillingConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// EngineConfig points at the upstream Deep Analysis engine. Timeout applies
// to non-streaming calls only; streaming runs are bounded by request context.
type EngineConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type CreditsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type BillingConfig struct {
	DeepAnalysisCost int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("DEEPDRILL_PORT", 8080),
			Env:  envString("DEEPDRILL_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Engine: EngineConfig{
			BaseURL: os.Getenv("ENGINE_BASE_URL"),
			APIKey:  os.Getenv("ENGINE_API_KEY"),
			Timeout: envDuration("ENGINE_TIMEOUT", 30*time.Second),
		},
		Credits: CreditsConfig{
			BaseURL: os.Getenv("CREDITS_BASE_URL"),
			APIKey:  os.Getenv("CREDITS_API_KEY"),
			Timeout: envDuration("CREDITS_TIMEOUT", 10*time.Second),
		},
		Billing: BillingConfig{
			DeepAnalysisCost: envInt("DEEP_ANALYSIS_COST", 29),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Engine.BaseURL == "" {
		return fmt.Errorf("ENGINE_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Engine.BaseURL, "http://") && !strings.HasPrefix(c.Engine.BaseURL, "https://") {
		return fmt.Errorf("ENGINE_BASE_URL must start with http:// or https://, got %q", c.Engine.BaseURL)
	}

	if c.Credits.BaseURL == "" {
		return fmt.Errorf("CREDITS_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Credits.BaseURL, "http://") && !strings.HasPrefix(c.Credits.BaseURL, "https://") {
		return fmt.Errorf("CREDITS_BASE_URL must start with http:// or https://, got %q", c.Credits.BaseURL)
	}

	if c.Billing.DeepAnalysisCost <= 0 {
		return fmt.Errorf("DEEP_ANALYSIS_COST must be positive, got %d", c.Billing.DeepAnalysisCost)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
