package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobforge/jobforge/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	var filters []string

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Check that the definitions load, expand and render",
		Long: `Run the full local pipeline over the definition paths: parse every
file, expand templates and macros, and render each resource. Nothing
is written anywhere; the exit status reports whether the definitions
are sound.`,
		Example: `  # Validate a definitions directory
  jobforge validate ./jobs

  # Validate recursively
  jobforge validate -r ./jobs`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			if cfg.Remote.URL == "" {
				cfg.Remote.URL = "http://localhost"
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			pipeline := engine.NewPipeline(cfg, log)
			specs, warnings, err := pipeline.LoadSpecs(filters)
			if err != nil {
				return err
			}
			for _, warning := range warnings {
				log.Warnf("%s", warning.Message)
			}

			_, failed := pipeline.RenderItems(specs)
			for name, itemErr := range failed {
				log.WithResource(name).Errorf("%v", itemErr)
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d resources failed to render", len(failed))
			}

			fmt.Printf("%d resources OK\n", len(specs))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&filters, "name", "n", nil, "only process resources matching these globs")

	return cmd
}
