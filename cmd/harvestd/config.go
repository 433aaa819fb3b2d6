package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for the harvest daemon.
type Config struct {
	// Service
	Port            int           `env:"PORT" envDefault:"8380"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Redis. Optional: when empty, cooldowns are in-process and runs are
	// not recorded.
	RedisAddr string `env:"REDIS_ADDR"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Upstream search API
	SearchBaseURL  string        `env:"SEARCH_BASE_URL,notEmpty"`
	SearchAPIKey   string        `env:"SEARCH_API_KEY,notEmpty"`
	SearchAPIHost  string        `env:"SEARCH_API_HOST"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// Session limits
	MaxPages   int `env:"MAX_PAGES" envDefault:"100"`
	MaxResults int `env:"MAX_RESULTS" envDefault:"1000"`
	PageLimit  int `env:"PAGE_LIMIT" envDefault:"100"`

	// Pacing
	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE" envDefault:"30"`
	MinimumDelay      time.Duration `env:"MINIMUM_DELAY" envDefault:"1s"`
	MaxDelay          time.Duration `env:"MAX_DELAY" envDefault:"10s"`
}

// loadConfig parses environment variables into Config, loading .env files
// first when present.
func loadConfig() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the constraints env tags cannot express.
func (c *Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("REQUESTS_PER_MINUTE must be positive")
	}
	if c.MaxPages <= 0 || c.MaxResults <= 0 || c.PageLimit <= 0 {
		return fmt.Errorf("MAX_PAGES, MAX_RESULTS and PAGE_LIMIT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
