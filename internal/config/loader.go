package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load loads configuration with layered sources.
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. System config (/etc/relo/config.yaml) - optional
//  3. User config (~/.relo/config.yaml) - optional
//  4. Project config (relo.yaml in the working directory, or the
//     explicit path) - optional unless a path was given
//  5. Environment variables (RELO_*)
func Load(path string) (*Config, error) {
	cfg := Default()

	systemPath := "/etc/relo/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		if err := mergeFromFile(cfg, systemPath); err != nil {
			slog.Warn("failed to load system config", "path", systemPath, "error", err)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ReloDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	if path != "" {
		// An explicit --config path must exist.
		if err := mergeFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(ProjectConfigFile); err == nil {
		if err := mergeFromFile(cfg, ProjectConfigFile); err != nil {
			return nil, err
		}
	}

	ApplyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile overlays configuration from a file onto cfg. Keys absent
// from the file keep their current values.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
