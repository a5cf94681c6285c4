package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Remote overrides
	remoteURL   string
	remoteUser  string
	remoteToken string

	// Definition overrides
	recursive       bool
	excludes        []string
	duplicatePolicy string
	lenient         bool

	// Cache overrides
	cachePath   string
	ignoreCache bool

	workers int
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jobforge",
		Short: "JobForge - declarative CI job management",
		Long: `JobForge keeps a CI server's jobs and views in sync with declarative
YAML definitions.

Definitions are expanded through templates, variable groups and macros
into concrete resources, rendered to the server's native XML, and
reconciled against the remote state. A local content-hash cache skips
resources that have not changed since the last run.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "url", "", "remote server base URL")
	rootCmd.PersistentFlags().StringVar(&remoteUser, "user", "", "remote server user")
	rootCmd.PersistentFlags().StringVar(&remoteToken, "token", "", "remote server API token")
	rootCmd.PersistentFlags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories of each path")
	rootCmd.PersistentFlags().StringSliceVarP(&excludes, "exclude", "x", nil, "path patterns to skip while scanning")
	rootCmd.PersistentFlags().StringVar(&duplicatePolicy, "duplicate-policy", "", "duplicate name handling: abort or warn")
	rootCmd.PersistentFlags().BoolVar(&lenient, "lenient", false, "substitute empty strings for undefined variables")
	rootCmd.PersistentFlags().StringVar(&cachePath, "cache", "", "content-hash cache database path")
	rootCmd.PersistentFlags().BoolVar(&ignoreCache, "ignore-cache", false, "treat every resource as changed")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 1, "reconciler worker count (1 = sequential, 0 = one per CPU)")

	// Add subcommands
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// loadConfig merges the config file (when given) with command-line
// overrides. Paths given as arguments become the definition roots.
func loadConfig(cmd *cobra.Command, paths []string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if remoteURL != "" {
		cfg.Remote.URL = remoteURL
	}
	if remoteUser != "" {
		cfg.Remote.User = remoteUser
	}
	if remoteToken != "" {
		cfg.Remote.APIToken = remoteToken
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 30 * time.Second
	}
	if len(paths) > 0 {
		cfg.Definitions.Roots = paths
	}
	if recursive {
		cfg.Definitions.Recursive = true
	}
	if len(excludes) > 0 {
		cfg.Definitions.Excludes = append(cfg.Definitions.Excludes, excludes...)
	}
	if duplicatePolicy != "" {
		cfg.Definitions.DuplicatePolicy = duplicatePolicy
	}
	if lenient {
		cfg.Definitions.Lenient = true
	}
	if cachePath != "" {
		cfg.Cache.Path = cachePath
	}
	if ignoreCache {
		cfg.Cache.Bypass = true
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if len(cfg.Definitions.Roots) == 0 {
		return nil, fmt.Errorf("no definition paths given (arguments or config file)")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	return telemetry.NewLogger(cfg.Logging)
}
