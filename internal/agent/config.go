// Package agent implements the companion display agent: a separate
// process that polls the salahguard daemon, holds the workstation locked
// while a prayer lock is active and reports its own state back as kiosk
// heartbeats.
package agent

import (
	"errors"
	"time"
)

var (
	ErrMissingKey      = errors.New("api_key is required")
	ErrMissingURL      = errors.New("base_url is required")
	ErrInvalidInterval = errors.New("poll_interval must be positive")
	ErrInvalidGrace    = errors.New("grace_period must be positive")
)

// Config holds the display agent configuration
type Config struct {
	BaseURL      string        // salahguard API base URL (e.g. "http://127.0.0.1:8321")
	APIKey       string        // API key for authentication
	PollInterval time.Duration // how often to poll the daemon (default: 5s)
	GracePeriod  time.Duration // grace period on network error before failing closed (default: 30s)
	LogLevel     string        // log level: debug, info, warn, error
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 5 * time.Second,
		GracePeriod:  30 * time.Second,
		LogLevel:     "info",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingKey
	}
	if c.BaseURL == "" {
		return ErrMissingURL
	}
	if c.PollInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.GracePeriod <= 0 {
		return ErrInvalidGrace
	}
	return nil
}
