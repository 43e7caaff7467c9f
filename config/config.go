package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
	Prayers  PrayerConfig   `json:"prayers"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json or text
}

// ServerConfig contains HTTP control-API settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig contains ledger database settings
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	APIKey  string `json:"api_key"`
	PINHash string `json:"pin_hash"` // bcrypt hash of the parent PIN
}

// PrayerConfig contains prayer scheduling settings
type PrayerConfig struct {
	Timezone string `json:"timezone"`
	// Times maps prayer names to "HH:MM" local times, used by the
	// config-backed prayer-time calculator.
	Times                 map[string]string        `json:"times"`
	DefaultAdvanceMinutes int                      `json:"default_advance_minutes"`
	FallbackWindowMinutes int                      `json:"fallback_window_minutes"`
	PerPrayer             map[string]PrayerFeature `json:"per_prayer"`
}

// PrayerFeature toggles the lock/adhan/notification features per prayer.
// AdvanceMinutes of 0 falls back to DefaultAdvanceMinutes.
type PrayerFeature struct {
	LockEnabled    bool `json:"lock_enabled"`
	AdhanEnabled   bool `json:"adhan_enabled"`
	NotifyEnabled  bool `json:"notify_enabled"`
	AdvanceMinutes int  `json:"advance_minutes"`
}

// TelegramConfig contains the optional parent-alert bot settings
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	if c.Security.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}

	if c.Prayers.Timezone == "" {
		c.Prayers.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Prayers.Timezone); err != nil {
		return fmt.Errorf("%w: invalid timezone %q", ErrInvalidConfig, c.Prayers.Timezone)
	}

	for name, value := range c.Prayers.Times {
		if _, err := time.Parse("15:04", value); err != nil {
			return fmt.Errorf("%w: invalid time %q for prayer %q", ErrInvalidConfig, value, name)
		}
	}

	if c.Prayers.DefaultAdvanceMinutes <= 0 {
		c.Prayers.DefaultAdvanceMinutes = 10
	}
	if c.Prayers.FallbackWindowMinutes <= 0 {
		c.Prayers.FallbackWindowMinutes = 60
	}

	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("%w: telegram token and chat_id are required when enabled", ErrInvalidConfig)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// Location returns the configured timezone as a *time.Location
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Prayers.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Feature returns the feature toggles for a prayer, defaulting to everything
// enabled when the prayer has no explicit entry.
func (c *Config) Feature(prayer string) PrayerFeature {
	if f, ok := c.Prayers.PerPrayer[prayer]; ok {
		return f
	}
	return PrayerFeature{LockEnabled: true, AdhanEnabled: true, NotifyEnabled: true}
}

// AdvanceMinutes returns the advance-notification lead time for a prayer
func (c *Config) AdvanceMinutes(prayer string) int {
	f := c.Feature(prayer)
	if f.AdvanceMinutes > 0 {
		return f.AdvanceMinutes
	}
	return c.Prayers.DefaultAdvanceMinutes
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SALAHGUARD_HOST", "127.0.0.1"),
			Port: getEnvInt("SALAHGUARD_PORT", 8321),
		},
		Database: DatabaseConfig{
			Path: getEnv("SALAHGUARD_DB_PATH", "./salahguard.db"),
		},
		Security: SecurityConfig{
			APIKey:  getEnv("SALAHGUARD_API_KEY", ""),
			PINHash: getEnv("SALAHGUARD_PIN_HASH", ""),
		},
		Prayers: PrayerConfig{
			Timezone:              getEnv("SALAHGUARD_TIMEZONE", "UTC"),
			DefaultAdvanceMinutes: getEnvInt("SALAHGUARD_ADVANCE_MINUTES", 10),
			FallbackWindowMinutes: getEnvInt("SALAHGUARD_FALLBACK_WINDOW_MINUTES", 60),
		},
		Telegram: TelegramConfig{
			Enabled: getEnvBool("SALAHGUARD_TELEGRAM_ENABLED", false),
			Token:   getEnv("SALAHGUARD_TELEGRAM_TOKEN", ""),
			ChatID:  int64(getEnvInt("SALAHGUARD_TELEGRAM_CHAT_ID", 0)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("SALAHGUARD_LOG_LEVEL", "info"),
			Format: getEnv("SALAHGUARD_LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
