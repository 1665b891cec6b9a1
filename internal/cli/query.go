package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/app"
	"github.com/bgunnarsson/binadmin/internal/config"
	"github.com/bgunnarsson/binadmin/internal/print"
)

func newQueryCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "query DATABASE [SQL]",
		Short: "Run SQL against a database",
		Long: `Run ad-hoc SQL against a database and print the result.

SQL is taken from the arguments, from --input, or from piped stdin. When
none is given and stdin is a terminal, an interactive shell starts.`,
		Example: `  binadmin query app "SELECT * FROM users LIMIT 10"
  binadmin query app -i report.sql -o csv
  echo "SELECT 1" | binadmin query app
  binadmin query app`,
		Args: cobra.MinimumNArgs(1),
		RunE: withService(func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error {
			database := args[0]

			var sqlText string
			switch {
			case len(args) > 1:
				sqlText = strings.Join(args[1:], " ")
			case input != "":
				content, err := os.ReadFile(input)
				if err != nil {
					return fmt.Errorf("failed to read file: %w", err)
				}
				sqlText = string(content)
			case !cc.interactive:
				content, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				sqlText = string(content)
			default:
				return runShell(cmd, cc, svc, database)
			}

			rows, err := svc.Query(cmd.Context(), database, sqlText)
			if err != nil {
				return err
			}
			return print.RenderRows(cc.Out, rows, cc.Print)
		}),
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "read SQL from file")
	return cmd
}

func runShell(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, database string) error {
	historyFile := ""
	if dir := config.Dir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			historyFile = filepath.Join(dir, "shell_history")
		}
	}

	return app.NewShell(svc, database, cc.Print, cc.Out, cc.ErrOut).Run(cmd.Context(), historyFile)
}
