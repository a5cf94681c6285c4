package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobforge/jobforge/pkg/assemble"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/engine"
)

func newDeleteCommand() *cobra.Command {
	var views bool

	cmd := &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete named resources from the remote server",
		Long: `Delete the named jobs (or views, with --views) from the remote server
and purge their cache entries. Names are deleted in the order given;
a failure on one name does not stop the others.`,
		Example: `  # Delete two jobs
  jobforge delete old-build old-deploy

  # Delete a view
  jobforge delete --views nightly-overview`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
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
			if cachePath != "" {
				cfg.Cache.Path = cachePath
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			if cfg.Remote.URL == "" {
				return fmt.Errorf("no remote URL given (--url or config file)")
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			kind := assemble.ResourceJob
			if views {
				kind = assemble.ResourceView
			}
			pipeline := engine.NewPipeline(cfg, log)
			failed, err := pipeline.Delete(cmd.Context(), kind, args)
			for name, itemErr := range failed {
				log.WithResource(name).Errorf("%v", itemErr)
			}
			if err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d resources failed to delete", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&views, "views", false, "delete views instead of jobs")

	return cmd
}
