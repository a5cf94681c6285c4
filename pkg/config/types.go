package config

import (
	"time"

	"github.com/jobforge/jobforge/pkg/telemetry"
)

// Config is the top-level tool configuration, loaded from a YAML file and
// overridable by command-line flags.
type Config struct {
	// Remote configures the target CI server.
	Remote RemoteConfig `yaml:"remote" validate:"required"`

	// Definitions configures where and how definition files are loaded.
	Definitions DefinitionsConfig `yaml:"definitions"`

	// Cache configures the content-hash cache.
	Cache CacheConfig `yaml:"cache"`

	// Workers is the reconciler pool width. The default is 1 (sequential
	// application); zero selects one worker per CPU.
	Workers int `yaml:"workers" validate:"gte=0"`

	// Logging configures structured log output.
	Logging telemetry.LoggingConfig `yaml:"logging"`
}

// RemoteConfig identifies and authenticates against one remote target.
type RemoteConfig struct {
	// URL is the server base URL.
	URL string `yaml:"url" validate:"required,url"`

	// User and APIToken are sent as basic auth on every call.
	User     string `yaml:"user"`
	APIToken string `yaml:"api_token"`

	// Timeout applies per remote call.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// DefinitionsConfig controls loading and expansion of definition files.
type DefinitionsConfig struct {
	// Roots are the files and directories to load, in order.
	Roots []string `yaml:"roots"`

	// Recursive descends into subdirectories of each root.
	Recursive bool `yaml:"recursive"`

	// Excludes are path rules pruning the recursive walk. A rule without
	// a separator matches any path segment; a rule starting with a
	// separator matches absolute paths; anything else is relative to the
	// root being walked.
	Excludes []string `yaml:"excludes"`

	// DuplicatePolicy is "abort" or "warn". Under warn the later
	// definition wins.
	DuplicatePolicy string `yaml:"duplicate_policy" validate:"omitempty,oneof=abort warn"`

	// Lenient substitutes empty strings for undefined variables instead
	// of failing.
	Lenient bool `yaml:"lenient"`

	// RetainFragments keeps macros, defaults and templates visible
	// across root boundaries instead of scoping them per root.
	RetainFragments bool `yaml:"retain_fragments"`
}

// CacheConfig controls the content-hash cache.
type CacheConfig struct {
	// Path is the SQLite database location. Empty selects the per-user
	// cache directory.
	Path string `yaml:"path"`

	// Bypass makes every lookup miss, forcing re-upload of everything.
	Bypass bool `yaml:"bypass"`
}
