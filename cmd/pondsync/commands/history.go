package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/farmops/pondsync/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		pond   string
		limit  int
		sweeps bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled pond operations and sweeps",
		Long: `Show the operation journal, newest first.

The journal records every create, update and delete with its outcome, and
every sweep pass with its counts. It is read locally; the FarmBot account is
not contacted.`,
		Example: `  # Recent operations
  pondsync history

  # Operations on one pond
  pondsync history --pond "Pond 3"

  # Recent sweep passes
  pondsync history --sweeps --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("the journal is disabled in the configuration")
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			store, err := stores.Open(ctx, cfg.StoreConfig())
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if sweeps {
				runs, err := store.ListSweepRuns(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, runs)
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						formatTime(r.StartedAt),
						r.Trigger,
						r.Status,
						strconv.Itoa(r.PondsScanned),
						strconv.Itoa(r.Created),
						strconv.Itoa(r.Failed),
						r.Error,
					})
				}
				return printTable(out,
					[]string{"STARTED", "TRIGGER", "STATUS", "PONDS", "CREATED", "FAILED", "ERROR"}, rows)
			}

			ops, err := store.ListOperations(ctx, pond, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out, ops)
			}
			rows := make([][]string, 0, len(ops))
			for _, op := range ops {
				detail := op.Detail
				if op.Error != "" {
					detail = op.Error
				}
				rows = append(rows, []string{
					formatTime(op.StartedAt),
					op.Kind,
					op.PondName,
					op.Status,
					detail,
				})
			}
			return printTable(out, []string{"STARTED", "KIND", "POND", "STATUS", "DETAIL"}, rows)
		},
	}

	cmd.Flags().StringVar(&pond, "pond", "", "only show operations on this pond")
	cmd.Flags().IntVarP(&limit, "limit", "n", stores.DefaultListLimit, "maximum number of entries")
	cmd.Flags().BoolVar(&sweeps, "sweeps", false, "show sweep passes instead of operations")

	return cmd
}
