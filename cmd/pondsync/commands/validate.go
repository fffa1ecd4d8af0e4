package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file without contacting FarmBot.

This command checks:
  - YAML syntax and the configuration schema (CUE)
  - Field constraints and environment overrides
  - The pond pattern against the template point name
  - Custom admission policies (OPA/rego) compile`,
		Example: `  # Validate the file given by --config
  pondsync validate --config pondsync.yaml

  # Validate a specific file
  pondsync validate ./pondsync.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(args) > 0 {
				configPath = args[0]
			}

			log.Info().Str("path", configPath).Msg("Validating configuration")

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			policies := 0
			if cfg.Policy.Enabled {
				engine, err := newPolicyEngine(ctx, cfg, zerolog.Nop())
				if err != nil {
					return err
				}
				for _, p := range engine.ListPolicies() {
					if p.Enabled {
						policies++
					}
				}
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"valid":    true,
					"path":     configPath,
					"policies": policies,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%d policies enabled)\n", policies)
			return nil
		},
	}

	return cmd
}
