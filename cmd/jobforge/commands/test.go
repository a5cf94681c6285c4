package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobforge/jobforge/pkg/engine"
)

func newTestCommand() *cobra.Command {
	var (
		outputDir string
		filters   []string
	)

	cmd := &cobra.Command{
		Use:   "test [path...]",
		Short: "Render definitions without touching the remote server",
		Long: `Load and assemble the definition paths and render every resource to
XML. Documents go to stdout, or one file per resource under --output.
Neither the remote server nor the cache is touched.`,
		Example: `  # Render everything to stdout
  jobforge test ./jobs

  # Write one XML file per resource
  jobforge test ./jobs -o ./out`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			// Rendering needs no remote target.
			if cfg.Remote.URL == "" {
				cfg.Remote.URL = "http://localhost"
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			pipeline := engine.NewPipeline(cfg, log)
			warnings, failed, err := pipeline.WriteDocuments(filters, outputDir)
			for _, warning := range warnings {
				log.Warnf("%s", warning.Message)
			}
			for name, itemErr := range failed {
				log.WithResource(name).Errorf("%v", itemErr)
			}
			if err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d resources failed to render", len(failed))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for rendered XML files")
	cmd.Flags().StringSliceVarP(&filters, "name", "n", nil, "only process resources matching these globs")

	return cmd
}
