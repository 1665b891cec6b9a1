package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/app"
	"github.com/bgunnarsson/binadmin/internal/config"
	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/dump"
	"github.com/bgunnarsson/binadmin/internal/history"
	"github.com/bgunnarsson/binadmin/internal/print"
	"github.com/bgunnarsson/binadmin/internal/session"
	"github.com/bgunnarsson/binadmin/internal/ui"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Out    io.Writer
	ErrOut io.Writer
	Print  print.Options

	// interactive is true when stdin is a terminal, so forms may be shown.
	interactive bool
}

func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := GetConfig(cmd.Context())
	format, err := print.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}
	return &CommandContext{
		Cfg:         cfg,
		Logger:      config.GetLogger(cmd.Context()),
		Out:         cmd.OutOrStdout(),
		ErrOut:      cmd.ErrOrStderr(),
		Print:       print.Options{Format: format},
		interactive: cmd.InOrStdin() == os.Stdin && ui.IsTerminal(os.Stdin),
	}, nil
}

// Credentials returns the configured connection, asking for the password
// when it is missing and a terminal is available.
func (c *CommandContext) Credentials() (db.Credentials, error) {
	creds := c.Cfg.Credentials
	if creds.Password == "" && creds.NormalizedDriver() != db.DriverSqlite && c.interactive {
		if err := ui.PromptPassword(&creds); err != nil {
			return db.Credentials{}, err
		}
	}
	return creds, nil
}

// OpenHistory opens the configured history store. With no path configured
// it returns a no-op recorder and a nil store.
func (c *CommandContext) OpenHistory() (history.Recorder, *history.Store, error) {
	if c.Cfg.HistoryPath == "" {
		return history.Nop{}, nil, nil
	}
	store, err := history.Open(c.Cfg.HistoryPath)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, store, nil
}

// Connect logs in with creds and returns a ready service. The returned
// cleanup disconnects and closes the history store.
func (c *CommandContext) Connect(ctx context.Context, creds db.Credentials) (*admin.Service, session.Info, func(), error) {
	rec, store, err := c.OpenHistory()
	if err != nil {
		// history is a convenience; never block a command on it
		c.Logger.Warn("history disabled", slog.String("error", err.Error()))
		rec = history.Nop{}
	}

	sess := session.New(app.OpenDB, c.Logger)
	info, err := sess.Connect(ctx, creds)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, session.Info{}, nil, err
	}

	svc := admin.New(sess, dump.NewRunner(c.Cfg.Tools, c.Logger),
		admin.WithHistory(rec),
		admin.WithLogger(c.Logger),
		admin.WithBackupDir(c.Cfg.BackupDir))

	cleanup := func() {
		sess.Disconnect()
		if store != nil {
			if err := store.Close(); err != nil {
				c.Logger.Debug("failed to close history", slog.String("error", err.Error()))
			}
		}
	}
	return svc, info, cleanup, nil
}

// Service is Connect with the configured credentials.
func (c *CommandContext) Service(ctx context.Context) (*admin.Service, func(), error) {
	creds, err := c.Credentials()
	if err != nil {
		return nil, nil, err
	}
	svc, _, cleanup, err := c.Connect(ctx, creds)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	return svc, cleanup, nil
}

// withService wraps a RunE body that needs a connected service.
func withService(fn func(cmd *cobra.Command, cc *CommandContext, svc *admin.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cc, err := NewCommandContext(cmd)
		if err != nil {
			return err
		}
		svc, cleanup, err := cc.Service(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd, cc, svc, args)
	}
}
