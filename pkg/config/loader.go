package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at path, expands environment variables, merges
// defaults underneath, applies DB_* fallbacks, and validates the result.
//
// A missing file is not an error: the defaults plus environment variables
// must be enough to run against a local database.
func Load(path string) (*Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, NewLoadError(path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("No config file found, using defaults and environment", "path", path)
	default:
		return nil, NewLoadError(path, err)
	}

	defaults := Defaults()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, fmt.Errorf("failed to merge config defaults: %w", err)
	}

	applyEnvFallbacks(&cfg.Database)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvFallbacks fills database fields from DB_* environment variables
// when the config file left them at their zero or default values. Explicit
// environment values win over built-in defaults but not over the file.
func applyEnvFallbacks(db *DatabaseConfig) {
	defaults := Defaults().Database

	if v := os.Getenv("DB_HOST"); v != "" && db.Host == defaults.Host {
		db.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" && db.Port == defaults.Port {
		if port, err := strconv.Atoi(v); err == nil {
			db.Port = port
		} else {
			slog.Warn("Ignoring invalid DB_PORT", "value", v)
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" && db.DBName == "" {
		db.DBName = v
	}
	if v := os.Getenv("DB_USER"); v != "" && db.User == "" {
		db.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" && db.Password == "" {
		db.Password = v
	}
	if v := os.Getenv("DB_APPLICATION_NAME"); v != "" && db.ApplicationName == defaults.ApplicationName {
		db.ApplicationName = v
	}
	if v := os.Getenv("DB_CONNECTION_TIMEOUT"); v != "" && db.ConnectionTimeout == defaults.ConnectionTimeout {
		if secs, err := strconv.Atoi(v); err == nil {
			db.ConnectionTimeout = secs
		} else {
			slog.Warn("Ignoring invalid DB_CONNECTION_TIMEOUT", "value", v)
		}
	}
}
