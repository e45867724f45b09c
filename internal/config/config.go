package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the GramScope server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Apify    ApifyConfig
	Poller   PollerConfig
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

type ApifyConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PollerConfig struct {
	Interval   time.Duration
	ErrBackoff time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("GRAMSCOPE_PORT", 8080),
			Env:  envString("GRAMSCOPE_ENV", "development"),
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
		Apify: ApifyConfig{
			BaseURL: envString("APIFY_BASE_URL", "https://api.apify.com/v2"),
			Timeout: envDuration("APIFY_TIMEOUT", 30*time.Second),
		},
		Poller: PollerConfig{
			Interval:   envDurationSecs("POLL_INTERVAL_SECS", 10*time.Second),
			ErrBackoff: envDurationSecs("POLL_ERROR_BACKOFF_SECS", 15*time.Second),
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

	if c.Apify.BaseURL == "" {
		return fmt.Errorf("APIFY_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Apify.BaseURL, "http://") && !strings.HasPrefix(c.Apify.BaseURL, "https://") {
		return fmt.Errorf("APIFY_BASE_URL must start with http:// or https://, got %q", c.Apify.BaseURL)
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECS must be positive, got %s", c.Poller.Interval)
	}
	if c.Poller.ErrBackoff <= 0 {
		return fmt.Errorf("POLL_ERROR_BACKOFF_SECS must be positive, got %s", c.Poller.ErrBackoff)
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

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
