package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farmops/pondsync/pkg/config"
	"github.com/farmops/pondsync/pkg/ponds"
)

func newSweepCommand() *cobra.Command {
	var failFast bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Complete ponds that are missing derived sequences",
		Long: `Run one reconciliation pass against the FarmBot account.

For every pond point, each template sequence without a derived copy is
cloned. Existing sequences are never modified or deleted.`,
		Example: `  # Run a single sweep
  pondsync sweep

  # Stop at the first failure
  pondsync sweep --fail-fast`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, func(cfg *config.Config) {
				if cmd.Flags().Changed("fail-fast") {
					cfg.Sweep.FailFast = failFast
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			res, sweepErr := a.sweeper.Sweep(a.tel.WithContext(ctx), ponds.TriggerManual)
			if res != nil {
				if jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					printSweepResult(cmd, res)
				}
			}
			return sweepErr
		},
	}

	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "abort at the first failed create")

	return cmd
}

func printSweepResult(cmd *cobra.Command, res *ponds.SweepResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sweep %s: %d ponds scanned, %d sequences created, %d failed\n",
		res.Status, res.PondsScanned, res.Created, res.Failed)
	if len(res.CreatedNames) > 0 {
		fmt.Fprintf(out, "Created: %s\n", strings.Join(res.CreatedNames, ", "))
	}
}
