package commands

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/jobforge/jobforge/pkg/assemble"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/engine"
)

func newListCommand() *cobra.Command {
	var (
		views       bool
		managedOnly bool
		pattern     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resources present on the remote server",
		Long: `List the jobs (or views, with --views) present on the remote server.
Resources created by this tool are marked managed.`,
		Example: `  # List all remote jobs
  jobforge list

  # List managed jobs matching a glob
  jobforge list --managed --name 'deploy-*'`,
		Args: cobra.NoArgs,
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
			resources, err := pipeline.ListRemote(cmd.Context(), kind)
			if err != nil {
				return err
			}

			for _, resource := range resources {
				if managedOnly && !resource.Managed {
					continue
				}
				if pattern != "" {
					if ok, err := path.Match(pattern, resource.Name); err != nil || !ok {
						continue
					}
				}
				marker := ""
				if resource.Managed {
					marker = " (managed)"
				}
				fmt.Printf("%s%s\n", resource.Name, marker)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&views, "views", false, "list views instead of jobs")
	cmd.Flags().BoolVar(&managedOnly, "managed", false, "only list resources managed by this tool")
	cmd.Flags().StringVarP(&pattern, "name", "n", "", "only list resources matching this glob")

	return cmd
}
