package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/ui"
)

func newCreateCommand() *cobra.Command {
	var opts db.CreateOptions

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a database",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			opts.Name = args[0]
			if err := svc.CreateDatabase(cmd.Context(), opts); err != nil {
				return err
			}
			ui.PrintResult(cc.Out, nil, fmt.Sprintf("Database %q created successfully", opts.Name))
			return nil
		}),
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner of the new database")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", "", "character encoding (e.g. UTF8)")
	cmd.Flags().StringVar(&opts.Template, "template", "", "template database to create from")
	return cmd
}

func newCloneCommand() *cobra.Command {
	var schemaOnly bool

	cmd := &cobra.Command{
		Use:   "clone SOURCE TARGET",
		Short: "Copy a database into a new one",
		Long: `Copy SOURCE into a new database named TARGET.

With data, postgres copies server-side using SOURCE as a template, which
fails while other sessions are connected to SOURCE. Other drivers, and
--schema-only, pipe a dump of SOURCE into TARGET.`,
		Args: cobra.ExactArgs(2),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			if err := svc.CloneDatabase(cmd.Context(), args[0], args[1], !schemaOnly); err != nil {
				return err
			}
			ui.PrintResult(cc.Out, nil, fmt.Sprintf("Database %q successfully cloned to %q", args[0], args[1]))
			return nil
		}),
	}

	cmd.Flags().BoolVar(&schemaOnly, "schema-only", false, "copy the schema without data")
	return cmd
}

func newRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename CURRENT NEW",
		Short: "Rename a database",
		Args:  cobra.ExactArgs(2),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			if err := svc.RenameDatabase(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			ui.PrintResult(cc.Out, nil, fmt.Sprintf("Database %q successfully renamed to %q", args[0], args[1]))
			return nil
		}),
	}
}

func newDropCommand() *cobra.Command {
	var confirm string

	cmd := &cobra.Command{
		Use:     "drop NAME",
		Aliases: []string{"delete"},
		Short:   "Delete a database",
		Long: `Delete a database and everything in it.

The name must be repeated with --confirm, or typed at the prompt when stdin
is a terminal.`,
		Example: `  binadmin drop scratch --confirm scratch`,
		Args:    cobra.ExactArgs(1),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			name := args[0]
			if confirm == "" && cc.interactive {
				typed, err := ui.ConfirmName("delete", name)
				if err != nil {
					return err
				}
				confirm = typed
			}
			if err := svc.DeleteDatabase(cmd.Context(), name, confirm); err != nil {
				return err
			}
			ui.PrintResult(cc.Out, nil, fmt.Sprintf("Database %q successfully deleted", name))
			return nil
		}),
	}

	cmd.Flags().StringVar(&confirm, "confirm", "", "repeat the database name to confirm")
	return cmd
}
