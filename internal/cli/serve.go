package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/app"
	"github.com/bgunnarsson/binadmin/internal/config"
	"github.com/bgunnarsson/binadmin/internal/dump"
	"github.com/bgunnarsson/binadmin/internal/server"
	"github.com/bgunnarsson/binadmin/internal/session"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API for a front end",
		Long: `Start a local HTTP server exposing login, browsing, queries and database
management as a JSON API. Each browser cookie gets its own connection.

Backup and restore stream progress as server-sent events when the request
sends Accept: text/event-stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cc.Cfg.Listen
			}

			rec, store, err := cc.OpenHistory()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.Config{
				Listen:        listen,
				SessionSecret: cc.Cfg.SessionSecret,
				Manager:       session.NewManager(app.OpenDB, cc.Logger),
				Dumper:        dump.NewRunner(cc.Cfg.Tools, cc.Logger),
				History:       rec,
				BackupDir:     cc.Cfg.BackupDir,
				Logger:        cc.Logger,
			})

			_, _ = fmt.Fprintf(cc.ErrOut, "Serving on http://%s (ctrl+c to stop)\n", listen)
			if err := srv.Serve(ctx); err != nil {
				return err
			}
			cc.Logger.Info("server stopped", slog.String("addr", listen))
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "address to listen on (default "+config.DefaultListen+")")
	return cmd
}
