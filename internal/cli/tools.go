package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/dump"
	"github.com/bgunnarsson/binadmin/internal/ui"
)

// runWithProgress draws a progress bar on a terminal and logs progress
// lines otherwise.
func runWithProgress(ctx context.Context, cc *CommandContext, title string, fn func(context.Context, dump.ProgressFunc) (*dump.Result, error)) (*dump.Result, error) {
	var res *dump.Result
	run := func(ctx context.Context, progress dump.ProgressFunc) error {
		var err error
		res, err = fn(ctx, progress)
		return err
	}

	if cc.Out == os.Stdout && ui.IsTerminal(os.Stdout) {
		err := ui.RunWithProgress(ctx, cc.ErrOut, title, run)
		return res, err
	}
	err := run(ctx, ui.LogProgress(cc.Logger))
	return res, err
}

func newBackupCommand() *cobra.Command {
	req := admin.BackupRequest{}

	cmd := &cobra.Command{
		Use:   "backup DATABASE",
		Short: "Back up a database with pg_dump or mysqldump",
		Long: `Back up a database by running the server's dump tool.

Postgres supports the custom, plain, directory and tar formats; mysql only
plain. Without --file the backup is written to the backup directory as
<database>_<unix millis>.<ext>.`,
		Example: `  binadmin backup app
  binadmin backup app --format plain --file app.sql
  binadmin backup app --format tar --backup-dir /var/backups`,
		Args: cobra.ExactArgs(1),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			req.Database = args[0]
			applyCompressionDefault(cmd, &req)

			res, err := runWithProgress(cmd.Context(), cc, fmt.Sprintf("Backing up %s", req.Database),
				func(ctx context.Context, progress dump.ProgressFunc) (*dump.Result, error) {
					return svc.Backup(ctx, req, progress)
				})
			if err != nil {
				return err
			}

			ui.PrintResult(cc.Out, []ui.Field{
				{Label: "File", Value: res.Path},
				{Label: "Format", Value: string(res.Format)},
				{Label: "Duration", Value: res.Duration.Round(time.Millisecond).String()},
			}, fmt.Sprintf("Database %q successfully backed up", req.Database))
			ui.PrintWarnings(cc.Out, res.Warnings)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&req.Format, "format", "F", "custom", "backup format (custom|plain|directory|tar)")
	cmd.Flags().IntVarP(&req.Compression, "compression", "Z", 6, "compression level 0-9 (custom and directory formats)")
	cmd.Flags().StringVarP(&req.Path, "file", "f", "", "output file or directory")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"custom", "plain", "directory", "tar"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// applyCompressionDefault drops the default level for formats pg_dump would
// otherwise gzip unreadably, unless --compression was given.
func applyCompressionDefault(cmd *cobra.Command, req *admin.BackupRequest) {
	if cmd.Flags().Changed("compression") {
		return
	}
	if f, err := dump.ParseFormat(req.Format); err == nil && !f.Compressed() {
		req.Compression = 0
	}
}

func newRestoreCommand() *cobra.Command {
	req := admin.RestoreRequest{}

	cmd := &cobra.Command{
		Use:   "restore DATABASE FILE",
		Short: "Restore a backup into an existing database",
		Long: `Restore a backup into an existing database. The backup format is
detected from the file: archives go through pg_restore, plain SQL through
psql (or mysql).

Errors pg_restore ignores and carries on past are reported as warnings.`,
		Example: `  binadmin create app_restored
  binadmin restore app_restored app_1700000000000.backup --clean`,
		Args: cobra.ExactArgs(2),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			req.Database, req.File = args[0], args[1]

			res, err := runWithProgress(cmd.Context(), cc, fmt.Sprintf("Restoring %s", req.Database),
				func(ctx context.Context, progress dump.ProgressFunc) (*dump.Result, error) {
					return svc.Restore(ctx, req, progress)
				})
			if err != nil {
				return err
			}

			msg := fmt.Sprintf("Database %q restored successfully!", req.Database)
			if n := res.WarningCount(); n > 0 {
				msg = fmt.Sprintf("Database %q restored with %d warning(s)", req.Database, n)
			}
			ui.PrintResult(cc.Out, []ui.Field{
				{Label: "File", Value: res.Path},
				{Label: "Format", Value: string(res.Format)},
			}, msg)
			ui.PrintWarnings(cc.Out, res.Warnings)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&req.Clean, "clean", false, "drop objects before recreating them")
	cmd.Flags().BoolVar(&req.SingleTransaction, "single-transaction", false, "restore in a single transaction")
	return cmd
}
