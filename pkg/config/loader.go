package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration, returning a Config
// ready for use.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Read the YAML file (optional; defaults alone are a valid config)
//  3. Expand {{.ENV_VAR}} references
//  4. Merge user YAML over the defaults
//  5. Validate the result
func Initialize(path string) (*Config, error) {
	log := slog.With("config_file", path)

	cfg := DefaultConfig()

	user, err := loadYAML(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	if user != nil {
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"target_url", cfg.Target.URL,
		"scenarios", len(cfg.Run.TrafficScenario),
		"concurrency_levels", len(cfg.Run.NumConcurrency))
	return cfg, nil
}

// loadYAML reads and parses one config file. An empty path means "defaults
// only" and returns (nil, nil); a named file that does not exist is an error.
func loadYAML(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}
