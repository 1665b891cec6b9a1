// Package cli provides the binadmin command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

type configKey struct{}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "binadmin",
		Short: "Inspect and administer database servers",
		Long: `binadmin logs in to a database server, browses databases, tables and
columns, runs ad-hoc queries, and creates, clones, renames, backs up,
restores and deletes databases.

Backups and restores run the server's own command-line tools (pg_dump,
pg_restore, psql, mysqldump, mysql), which must be installed.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if cfg.File != "" {
				logger.Debug("using config file", "path", cfg.File)
			}

			ctx := context.WithValue(cmd.Context(), configKey{}, cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./binadmin.yaml)")
	pf.StringP("profile", "P", "", "named connection profile from the config file")
	pf.String("driver", "", "database driver (postgres|mysql|mssql|sqlite)")
	pf.StringP("host", "H", "", "server host")
	pf.IntP("port", "p", 0, "server port")
	pf.StringP("user", "U", "", "user name")
	pf.String("password", "", "password (prompted for when missing and stdin is a terminal)")
	pf.StringP("database", "d", "", "database to connect to")
	pf.String("sslmode", "", "postgres sslmode")
	pf.StringP("output", "o", "", "output format (table|markdown|csv|json)")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (text|json)")
	pf.String("backup-dir", "", "directory for generated backup files")
	pf.String("history", "", "history database path (empty disables history)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "markdown", "csv", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("driver", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"postgres", "mysql", "mssql", "sqlite"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newDatabasesCommand())
	rootCmd.AddCommand(newTablesCommand())
	rootCmd.AddCommand(newColumnsCommand())
	rootCmd.AddCommand(newQueryCommand())
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newCloneCommand())
	rootCmd.AddCommand(newRenameCommand())
	rootCmd.AddCommand(newDropCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{Output: config.DefaultOutput, Listen: config.DefaultListen}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "binadmin v%s (%s)\n", Version, GitCommit)
		},
	}
}
