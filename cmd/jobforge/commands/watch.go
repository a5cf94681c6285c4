package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jobforge/jobforge/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var (
		filters  []string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [path...]",
		Short: "Reconcile on every definition change",
		Long: `Watch the definition paths and run an update whenever a YAML file
changes. Rapid bursts of changes (editor saves, branch switches) are
coalesced into a single run.`,
		Example: `  # Keep the server in sync with a directory
  jobforge watch ./jobs`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			for _, root := range cfg.Definitions.Roots {
				if err := addWatchTree(watcher, root, cfg.Definitions.Recursive); err != nil {
					return err
				}
			}

			pipeline := engine.NewPipeline(cfg, log)
			runOnce := func() {
				result, err := pipeline.Update(cmd.Context(), engine.UpdateOptions{Filters: filters})
				if err != nil {
					log.WithError(err).Error("update failed")
					return
				}
				log.Infof("applied %d, skipped %d, failed %d",
					result.Applied, result.Skipped, len(result.Failed))
			}

			log.Infof("watching %d paths", len(cfg.Definitions.Roots))
			runOnce()

			var timer *time.Timer
			pending := make(chan struct{}, 1)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !relevantChange(event) {
						continue
					}
					log.Debugf("definition change: %s", event)
					if event.Op.Has(fsnotify.Create) {
						if info, err := os.Stat(event.Name); err == nil && info.IsDir() && cfg.Definitions.Recursive {
							_ = addWatchTree(watcher, event.Name, true)
						}
					}
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.WithError(err).Warn("watch error")
				case <-pending:
					runOnce()
				}
			}
		},
	}

	cmd.Flags().StringSliceVarP(&filters, "name", "n", nil, "only process resources matching these globs")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "delay before reacting to a burst of changes")

	return cmd
}

// addWatchTree registers a path and, when recursive, every directory
// under it.
func addWatchTree(watcher *fsnotify.Watcher, root string, recursive bool) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat watch path %s: %w", root, err)
	}
	if !info.IsDir() || !recursive {
		return watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// relevantChange reports whether an event concerns a definition file or a
// directory shape change.
func relevantChange(event fsnotify.Event) bool {
	if event.Op.Has(fsnotify.Chmod) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
		return true
	}
	// Creations and removals may be directories.
	return event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)
}
