package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/config"
	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/ui"
)

func newLoginCommand() *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Connect to a server and show who you are logged in as",
		Long: `Connect to a database server with the configured credentials and print
the identity the server reports.

Missing connection details are asked for interactively when stdin is a
terminal. With --save the connection (without the password) is stored as a
named profile in the config file.`,
		Example: `  binadmin login -H db.internal -U admin
  binadmin login -H db.internal -U admin --save prod
  binadmin --profile prod databases`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}

			creds := cc.Cfg.Credentials
			if cc.interactive && creds.NormalizedDriver() != db.DriverSqlite && (creds.User == "" || creds.Password == "") {
				if err := ui.RunLoginForm(&creds); err != nil {
					return err
				}
			}

			_, info, cleanup, err := cc.Connect(cmd.Context(), creds)
			if err != nil {
				return err
			}
			defer cleanup()

			server := info.Host
			if info.Port != 0 {
				server += ":" + strconv.Itoa(info.Port)
			}
			fields := []ui.Field{
				{Label: "Server", Value: server},
				{Label: "Connected as", Value: info.ConnectedAs},
				{Label: "Database", Value: info.CurrentDB},
			}

			msg := ""
			if save != "" {
				path := cc.Cfg.File
				if path == "" {
					path = config.DefaultFile()
				}
				if err := config.SaveProfile(path, save, creds); err != nil {
					return err
				}
				msg = fmt.Sprintf("Saved profile %q to %s", save, path)
			}

			ui.PrintResult(cc.Out, fields, msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&save, "save", "", "save the connection as a named profile")
	return cmd
}
