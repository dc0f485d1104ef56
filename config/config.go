// Package config loads the module configuration from an optional YAML
// file and environment variables. Every key has a working default, so
// an empty environment yields a usable in-memory setup; production
// deployments override the storage section.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage driver names accepted by the storage section.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrMissingEnvironmentVariables = errors.New("missing required environment variables")
	ErrUnknownDriver               = errors.New("unknown storage driver")
)

// Config holds the full module configuration.
type Config struct {
	Env        string     `mapstructure:"env"`       // current application environment (local, dev, production)
	LogLevel   string     `mapstructure:"log_level"` // minimum log level, empty keeps the environment profile default
	Storage    Storage    `mapstructure:"storage"`
	Engine     Engine     `mapstructure:"engine"`
	Difficulty Difficulty `mapstructure:"difficulty"`
	Review     Review     `mapstructure:"review"`
}

// Storage selects and tunes the persistence backend.
type Storage struct {
	Driver          string        `mapstructure:"driver"`            // memory, sqlite or postgres
	Path            string        `mapstructure:"path"`              // sqlite database file
	URL             string        `mapstructure:"-"`                 // postgres connection string loaded from environment
	MaxConnections  int           `mapstructure:"max_connections"`   // maximum number of open connections in the pool
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"` // maximum lifetime of a single connection
}

// DSN returns the postgres connection string if it is configured.
func (s Storage) DSN() (string, error) {
	if s.URL == "" {
		return "", ErrMissingEnvironmentVariables
	}
	return s.URL, nil
}

// Engine tunes the SM-2 scheduling engine and the grading thresholds.
type Engine struct {
	MaxIntervalDays int           `mapstructure:"max_interval_days"` // ceiling on computed intervals
	FastAnswer      time.Duration `mapstructure:"fast_answer"`       // under this, a correct answer grades as instant
	SlowAnswer      time.Duration `mapstructure:"slow_answer"`       // at or over this, any answer counts as slow
}

// Difficulty tunes the adaptive tier movement.
type Difficulty struct {
	WindowSize       int     `mapstructure:"window_size"`        // rolling outcome window length
	PromoteAccuracy  float64 `mapstructure:"promote_accuracy"`   // promote strictly above this with a full window
	DemoteAccuracy   float64 `mapstructure:"demote_accuracy"`    // demote strictly below this
	DemoteMinSamples int     `mapstructure:"demote_min_samples"` // minimum evidence before demotion
}

// Review tunes the review orchestration layer.
type Review struct {
	QueueLimit      int `mapstructure:"queue_limit"`       // default due-queue page size
	MaxSaveAttempts int `mapstructure:"max_save_attempts"` // retries on a version conflict
}

// Load reads configuration from an optional .env file, config files and
// environment variables.
func Load() (*Config, error) {
	// Pull a local .env into the process environment first; absence is
	// the normal case outside development.
	_ = godotenv.Load()

	// Initialize Viper instance and base config options.
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// Set default values for configuration keys.
	v.SetDefault("env", "local")
	v.SetDefault("log_level", "")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.path", "data/conjugo.db")
	v.SetDefault("storage.max_connections", 20)
	v.SetDefault("storage.max_conn_lifetime", "30s")
	v.SetDefault("engine.max_interval_days", 36500)
	v.SetDefault("engine.fast_answer", "10s")
	v.SetDefault("engine.slow_answer", "30s")
	v.SetDefault("difficulty.window_size", 10)
	v.SetDefault("difficulty.promote_accuracy", 0.85)
	v.SetDefault("difficulty.demote_accuracy", 0.60)
	v.SetDefault("difficulty.demote_min_samples", 5)
	v.SetDefault("review.queue_limit", 20)
	v.SetDefault("review.max_save_attempts", 3)

	// Configure environment variable handling and key mapping.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // map nested keys to ENV style names
	v.AutomaticEnv()

	// Bind explicit environment variables to configuration keys.
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("env", "APP_ENV")

	// Try to read configuration file if present.
	if err := v.ReadInConfig(); err != nil {
		var fileLookupErr viper.ConfigFileNotFoundError
		if !errors.As(err, &fileLookupErr) {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	// Unmarshal configuration into strongly typed struct.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	cfg.Storage.URL = v.GetString("database_url")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration that cannot be
// defaulted into correctness.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		// The connection string carries credentials and only ever
		// arrives through the environment.
		if _, err := c.Storage.DSN(); err != nil {
			return fmt.Errorf("storage driver %q: %w", c.Storage.Driver, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Storage.Driver)
	}
	return nil
}
