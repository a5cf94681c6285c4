package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobforge/jobforge/pkg/engine"
)

func newUpdateCommand() *cobra.Command {
	var (
		deleteOld    bool
		keep         []string
		existingOnly bool
		filters      []string
	)

	cmd := &cobra.Command{
		Use:   "update [path...]",
		Short: "Reconcile the remote server with the definitions",
		Long: `Load the definition paths, assemble and render every resource, and
push whatever differs from the remote state. Resources whose rendered
content matches the cached hash of the last run are skipped.

With --delete-old, managed remote resources that are no longer declared
are removed. Hand-created resources are never touched.`,
		Example: `  # Update from a definitions directory
  jobforge update ./jobs

  # Update only resources matching a glob
  jobforge update ./jobs --name 'deploy-*'

  # Remove managed resources no longer declared
  jobforge update ./jobs --delete-old`,
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

			pipeline := engine.NewPipeline(cfg, log)
			result, err := pipeline.Update(cmd.Context(), engine.UpdateOptions{
				Filters:        filters,
				DeleteObsolete: deleteOld,
				Keep:           keep,
				ExistingOnly:   existingOnly,
			})
			if result != nil {
				for _, warning := range result.Warnings {
					log.Warnf("%s", warning.Message)
				}
				fmt.Printf("applied %d, skipped %d, deleted %d, failed %d\n",
					result.Applied, result.Skipped, result.Deleted, len(result.Failed))
				for name, itemErr := range result.Failed {
					log.WithResource(name).Errorf("%v", itemErr)
				}
			}
			if err != nil {
				return err
			}
			if result != nil && len(result.Failed) > 0 {
				return fmt.Errorf("%d resources failed", len(result.Failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteOld, "delete-old", false, "delete managed resources no longer declared")
	cmd.Flags().StringSliceVar(&keep, "keep", nil, "resource names exempt from --delete-old")
	cmd.Flags().BoolVar(&existingOnly, "existing-only", false, "only update resources already present remotely")
	cmd.Flags().StringSliceVarP(&filters, "name", "n", nil, "only process resources matching these globs")

	return cmd
}
