package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "pondsync",
		Short: "pondsync - FarmBot pond sequence manager",
		Long: `pondsync keeps a FarmBot account's pond points and their measurement
sequences in step.

Every pond point gets its own copy of each template sequence, with references
to the template point rewritten to the pond. A shared aggregate sequence runs
the measurement of every pond flagged for inclusion, in pond order.

Features:
  - Create, update and delete ponds with their derived sequences
  - Background sweep that completes partially created ponds
  - Admission policies (OPA/rego) on pond operations
  - Operation journal in SQLite
  - HTTP management surface with Prometheus metrics`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSweepCommand())
	rootCmd.AddCommand(newPondCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
