package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobforge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestLoadDefaults tests that an empty path yields usable defaults
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Remote.Timeout != 30*time.Second {
		t.Errorf("expected 30s default timeout, got %v", cfg.Remote.Timeout)
	}
	if cfg.Definitions.DuplicatePolicy != "abort" {
		t.Errorf("expected abort default policy, got %q", cfg.Definitions.DuplicatePolicy)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info default level, got %q", cfg.Logging.Level)
	}
	if cfg.Workers != 1 {
		t.Errorf("expected sequential default (1 worker), got %d", cfg.Workers)
	}
}

// TestLoadWorkersAutodetect tests that an explicit zero survives as the
// per-CPU autodetection sentinel
func TestLoadWorkersAutodetect(t *testing.T) {
	path := writeConfig(t, "remote:\n  url: https://ci.example.com\nworkers: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 0 {
		t.Errorf("expected workers 0, got %d", cfg.Workers)
	}
}

// TestLoadFile tests YAML parsing over the defaults
func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
remote:
  url: https://ci.example.com
  user: bot
  api_token: secret
  timeout: 10s
definitions:
  roots:
    - ./jobs
  recursive: true
  excludes:
    - sandbox*
  duplicate_policy: warn
  lenient: true
workers: 4
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Remote.URL != "https://ci.example.com" {
		t.Errorf("unexpected URL: %q", cfg.Remote.URL)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.Remote.Timeout)
	}
	if !cfg.Definitions.Recursive || cfg.Definitions.DuplicatePolicy != "warn" || !cfg.Definitions.Lenient {
		t.Errorf("definitions section not applied: %+v", cfg.Definitions)
	}
	if len(cfg.Definitions.Excludes) != 1 || cfg.Definitions.Excludes[0] != "sandbox*" {
		t.Errorf("unexpected excludes: %v", cfg.Definitions.Excludes)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging section not applied: %+v", cfg.Logging)
	}
}

// TestLoadInvalid tests rejection of bad configurations
func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "remote: ["},
		{"bad url", "remote:\n  url: not-a-url\n"},
		{"bad policy", "remote:\n  url: https://ci.example.com\ndefinitions:\n  duplicate_policy: maybe\n"},
		{"bad log level", "remote:\n  url: https://ci.example.com\nlogging:\n  level: shouty\n"},
		{"negative workers", "remote:\n  url: https://ci.example.com\nworkers: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

// TestLoadMissingFile tests that a named but absent file is an error
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
