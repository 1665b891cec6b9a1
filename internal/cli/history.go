package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/print"
)

func newHistoryCommand() *cobra.Command {
	var (
		operations bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed queries or admin operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			_, store, err := cc.OpenHistory()
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("history is disabled (no history path configured)")
			}
			defer store.Close()

			if operations {
				ops, err := store.Operations(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return print.RenderOperations(cc.Out, ops, cc.Print)
			}

			entries, err := store.Queries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return print.RenderQueries(cc.Out, entries, cc.Print)
		},
	}

	cmd.Flags().BoolVar(&operations, "operations", false, "show admin operations instead of queries")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show (0 for all)")
	return cmd
}
