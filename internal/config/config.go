// Package config loads service configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Penalty  PenaltyConfig  `koanf:"penalty"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig holds store settings. Connection fields apply to the
// postgres driver only.
type DatabaseConfig struct {
	Driver   string `koanf:"driver"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`

	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time"`

	// LockTimeout bounds every row-lock wait. Zero waits indefinitely.
	LockTimeout time.Duration `koanf:"lock_timeout"`

	ConnectAttempts   int           `koanf:"connect_attempts"`
	ConnectRetryDelay time.Duration `koanf:"connect_retry_delay"`

	// Migrate applies the embedded schema at startup.
	Migrate bool `koanf:"migrate"`

	// SeedFile is a YAML fixture of users, events and sessions loaded into
	// the memory driver at startup.
	SeedFile string `koanf:"seed_file"`
}

// DSN builds a libpq-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// PenaltyConfig is the no-show policy.
type PenaltyConfig struct {
	// Window is the trailing period in which ended sessions count as no-shows.
	Window time.Duration `koanf:"window"`
	// Threshold is the no-show count at which a user is blocked.
	Threshold int `koanf:"threshold"`
	// BlockDuration is how long a triggered block lasts.
	BlockDuration time.Duration `koanf:"block_duration"`
	// SweepInterval runs the evaluator proactively. Zero disables the sweeper.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

const day = 24 * time.Hour

// defaultConfig returns a Config with every default applied. Defaults are
// loaded first and overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Second,
		},
		Database: DatabaseConfig{
			Driver:            DriverPostgres,
			Host:              "localhost",
			Port:              "5432",
			User:              "postgres",
			Password:          "postgres",
			Name:              "eventbooking",
			SSLMode:           "disable",
			MaxConns:          20,
			MinConns:          2,
			MaxConnLifetime:   30 * time.Minute,
			MaxConnIdleTime:   5 * time.Minute,
			LockTimeout:       5 * time.Second,
			ConnectAttempts:   5,
			ConnectRetryDelay: 2 * time.Second,
			Migrate:           true,
		},
		Penalty: PenaltyConfig{
			Window:        30 * day,
			Threshold:     3,
			BlockDuration: 30 * day,
			SweepInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if !c.Server.RateLimitDisabled && (c.Server.RateLimitRequests <= 0 || c.Server.RateLimitWindow <= 0) {
		errs = append(errs, errors.New("server.rate_limit_requests and server.rate_limit_window must be positive"))
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database.host and database.name are required for the postgres driver"))
		}
		if c.Database.ConnectAttempts < 1 {
			errs = append(errs, errors.New("database.connect_attempts must be at least 1"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver))
	}
	if c.Database.LockTimeout < 0 {
		errs = append(errs, errors.New("database.lock_timeout must not be negative"))
	}

	if c.Penalty.Window <= 0 {
		errs = append(errs, errors.New("penalty.window must be positive"))
	}
	if c.Penalty.Threshold <= 0 {
		errs = append(errs, errors.New("penalty.threshold must be positive"))
	}
	if c.Penalty.BlockDuration <= 0 {
		errs = append(errs, errors.New("penalty.block_duration must be positive"))
	}
	if c.Penalty.SweepInterval < 0 {
		errs = append(errs, errors.New("penalty.sweep_interval must not be negative"))
	}

	return errors.Join(errs...)
}
