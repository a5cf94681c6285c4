// Package config loads and validates the tool configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jobforge/jobforge/pkg/telemetry"
)

var validate = validator.New()

// Default returns a configuration with every optional field at its
// default. Remote.URL stays empty and must be supplied by file or flag.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Definitions: DefinitionsConfig{
			DuplicatePolicy: "abort",
		},
		Workers: 1,
		Logging: telemetry.DefaultLoggingConfig(),
	}
}

// Load reads a YAML configuration file over the defaults and validates the
// result. An empty path returns the defaults unvalidated, for callers that
// fill in required fields from flags.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks structural constraints and the logging section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return c.Logging.Validate()
}
