package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/session-registration/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envMappings maps environment variable names (lower-cased) to koanf paths.
// DB_* and PORT are the names existing deployments already set.
var envMappings = map[string]string{
	"port":                   "server.port",
	"server_read_timeout":    "server.read_timeout",
	"server_write_timeout":   "server.write_timeout",
	"server_idle_timeout":    "server.idle_timeout",
	"shutdown_timeout":       "server.shutdown_timeout",
	"cors_origins":           "server.cors_origins",
	"rate_limit_requests":    "server.rate_limit_requests",
	"rate_limit_window":      "server.rate_limit_window",
	"rate_limit_disabled":    "server.rate_limit_disabled",
	"db_driver":              "database.driver",
	"db_host":                "database.host",
	"db_port":                "database.port",
	"db_user":                "database.user",
	"db_password":            "database.password",
	"db_name":                "database.name",
	"db_sslmode":             "database.sslmode",
	"db_max_conns":           "database.max_conns",
	"db_min_conns":           "database.min_conns",
	"db_lock_timeout":        "database.lock_timeout",
	"db_connect_attempts":    "database.connect_attempts",
	"db_migrate":             "database.migrate",
	"db_seed_file":           "database.seed_file",
	"penalty_window":         "penalty.window",
	"penalty_threshold":      "penalty.threshold",
	"penalty_block_duration": "penalty.block_duration",
	"penalty_sweep_interval": "penalty.sweep_interval",
	"log_level":              "logging.level",
	"log_format":             "logging.format",
	"log_caller":             "logging.caller",
}

// envTransformFunc maps an environment variable name to a koanf path.
// Unknown variables map to "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load builds the configuration:
//
//  1. struct defaults
//  2. YAML file from CONFIG_PATH or DefaultConfigPaths (optional)
//  3. environment variables (highest priority)
//
// and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// sliceFields are list-valued keys that arrive as comma-separated strings
// from the environment.
var sliceFields = []string{"server.cors_origins"}

func splitSliceFields(k *koanf.Koanf) error {
	for _, key := range sliceFields {
		raw, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// findConfigFile returns the config file to load, or "" if none exists.
// A path named by CONFIG_PATH must exist.
func findConfigFile() (string, error) {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("config file from %s: %w", ConfigPathEnvVar, err)
		}
		return envPath, nil
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}
