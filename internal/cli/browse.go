package cli

import (
	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/print"
)

func newDatabasesCommand() *cobra.Command {
	var templates bool

	cmd := &cobra.Command{
		Use:     "databases",
		Aliases: []string{"dbs", "ls"},
		Short:   "List databases on the server",
		Args:    cobra.NoArgs,
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, _ []string) error {
			dbs, err := svc.Databases(cmd.Context(), templates)
			if err != nil {
				return err
			}
			return print.RenderDatabases(cc.Out, dbs, cc.Print)
		}),
	}

	cmd.Flags().BoolVar(&templates, "templates", false, "include template databases")
	return cmd
}

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables DATABASE",
		Short: "List the tables of a database",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			tables, err := svc.Tables(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return print.RenderTables(cc.Out, tables, cc.Print)
		}),
	}
}

func newColumnsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "columns DATABASE TABLE",
		Aliases: []string{"describe"},
		Short:   "Show the columns of a table",
		Long: `Show the columns of a table in ordinal order with their type,
nullability and default. TABLE may be qualified with a schema.`,
		Args: cobra.ExactArgs(2),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			cols, err := svc.Columns(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return print.RenderColumns(cc.Out, cols, cc.Print)
		}),
	}
}
