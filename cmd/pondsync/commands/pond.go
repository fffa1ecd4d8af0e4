package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farmops/pondsync/pkg/ponds"
)

func newPondCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pond",
		Short: "Manage pond points and their sequences",
		Long: `Create, update, delete and list ponds.

A pond is a point whose name matches the pond pattern (e.g. "Pond 3").
Each pond owns a copy of every template sequence, and may be included in
the aggregate measurement sequence.`,
	}

	cmd.AddCommand(newPondListCommand())
	cmd.AddCommand(newPondCreateCommand())
	cmd.AddCommand(newPondUpdateCommand())
	cmd.AddCommand(newPondDeleteCommand())

	return cmd
}

func newPondListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ponds and their missing sequences",
		Example: `  # List ponds as a table
  pondsync pond list

  # List ponds as JSON
  pondsync pond list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.manager.List(a.tel.WithContext(ctx))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), list)
			}

			rows := make([][]string, 0, len(list))
			for _, p := range list {
				missing := "-"
				if len(p.Missing) > 0 {
					missing = strings.Join(p.Missing, ", ")
				}
				rows = append(rows, []string{
					strconv.FormatInt(p.ID, 10),
					p.Name,
					formatFloat(p.X),
					formatFloat(p.Y),
					strconv.FormatBool(p.IncludeInAggregate),
					missing,
				})
			}
			return printTable(cmd.OutOrStdout(),
				[]string{"ID", "NAME", "X", "Y", "AGGREGATE", "MISSING"}, rows)
		},
	}
}

func newPondCreateCommand() *cobra.Command {
	var x, y float64

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a pond point and its derived sequences",
		Long: `Create a pond point at the given coordinates and clone every template
sequence for it.

If the point already exists but some derived sequences are missing, the
missing ones are created and the pond is reported as resumed.`,
		Example: `  pondsync pond create "Pond 4" --x 1200 --y 340`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.manager.Create(a.tel.WithContext(ctx), ponds.CreateRequest{
				Name: args[0],
				X:    &x,
				Y:    &y,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}

			verb := "Created"
			if res.Resumed {
				verb = "Completed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s pond %q (id %d) with %d sequences\n",
				verb, res.Point.Name, res.Point.ID, res.Created)
			return nil
		},
	}

	cmd.Flags().Float64Var(&x, "x", 0, "x coordinate in mm")
	cmd.Flags().Float64Var(&y, "y", 0, "y coordinate in mm")
	_ = cmd.MarkFlagRequired("x")
	_ = cmd.MarkFlagRequired("y")

	return cmd
}

func newPondUpdateCommand() *cobra.Command {
	var (
		x, y    float64
		include bool
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Move a pond and set its aggregate inclusion",
		Long: `Update a pond's coordinates and whether the aggregate measurement
sequence runs it.

The aggregate sequence is rewritten so that included ponds are measured in
pond order, between its header and footer steps.`,
		Example: `  # Move pond 42 and include it in the aggregate
  pondsync pond update 42 --x 100 --y 200 --include

  # Exclude it again
  pondsync pond update 42 --x 100 --y 200 --include=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parsePointID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.manager.Update(a.tel.WithContext(ctx), id, ponds.UpdateRequest{
				X:                  &x,
				Y:                  &y,
				IncludeInAggregate: &include,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Updated pond %q at (%s, %s)\n",
				res.Point.Name, formatFloat(res.Point.X), formatFloat(res.Point.Y))
			fmt.Fprintf(out, "Aggregate: %s", res.Aggregate.Action)
			if res.Aggregate.Reason != "" {
				fmt.Fprintf(out, " (%s)", res.Aggregate.Reason)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().Float64Var(&x, "x", 0, "x coordinate in mm")
	cmd.Flags().Float64Var(&y, "y", 0, "y coordinate in mm")
	cmd.Flags().BoolVar(&include, "include", false, "include the pond in the aggregate sequence")
	_ = cmd.MarkFlagRequired("x")
	_ = cmd.MarkFlagRequired("y")
	_ = cmd.MarkFlagRequired("include")

	return cmd
}

func newPondDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a pond and every sequence derived for it",
		Long: `Delete a pond point, its derived sequences and its aggregate inclusion.

Failures part way through are not rolled back; the remaining sequences are
left in place and the pond can be deleted again.`,
		Example: `  pondsync pond delete 42`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parsePointID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.manager.Delete(a.tel.WithContext(ctx), id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted pond %q and %d sequences\n",
				res.Point.Name, res.SequencesDeleted)
			return nil
		},
	}

	return cmd
}

func parsePointID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ponds.NewValidationError("invalid point id %q", raw)
	}
	return id, nil
}
