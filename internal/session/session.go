// Package session owns the live connection to a database server.
//
// A Session replaces a process-wide connection: callers hold one
// explicitly, and every operation against the server goes through it.
package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bgunnarsson/binadmin/internal/db"
)

// ErrNotConnected is returned when an operation needs a live connection
// and the session is logged out.
var ErrNotConnected = errors.New("not connected to a database server")

// Opener opens a connection from credentials. app.OpenDB is the production
// implementation.
type Opener func(ctx context.Context, creds db.Credentials) (db.DB, error)

// Info describes the current connection.
type Info struct {
	Driver      string    `json:"driver"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	User        string    `json:"user"`
	Database    string    `json:"database"`
	ConnectedAs string    `json:"connectedAs"`
	CurrentDB   string    `json:"currentDb"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type Session struct {
	open   Opener
	logger *slog.Logger

	mu    sync.Mutex
	creds db.Credentials
	conn  db.DB
	info  *Info
}

// New creates a disconnected session. If logger is nil, a discard logger
// is used.
func New(open Opener, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{open: open, logger: logger}
}

// Connect replaces any existing connection with a new one and verifies it.
// On failure the session is left disconnected.
func (s *Session) Connect(ctx context.Context, creds db.Credentials) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	creds.Driver = creds.NormalizedDriver()
	creds.Database = creds.DatabaseOrDefault()

	s.logger.Info("connecting", slog.Any("server", creds))

	conn, id, err := s.dial(ctx, creds)
	if err != nil {
		s.logger.Error("connection failed", slog.Any("server", creds), slog.String("error", err.Error()))
		return Info{}, err
	}

	s.creds = creds
	s.conn = conn
	s.info = &Info{
		Driver:      creds.Driver,
		Host:        creds.HostOrDefault(),
		Port:        creds.PortOrDefault(),
		User:        creds.User,
		Database:    creds.Database,
		ConnectedAs: id.User,
		CurrentDB:   id.Database,
		ConnectedAt: time.Now(),
	}

	s.logger.Info("connected", slog.String("user", id.User), slog.String("database", id.Database))
	return *s.info, nil
}

func (s *Session) dial(ctx context.Context, creds db.Credentials) (db.DB, db.Identity, error) {
	conn, err := s.open(ctx, creds)
	if err != nil {
		return nil, db.Identity{}, connectError(err)
	}

	id, err := conn.Identity(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, db.Identity{}, connectError(err)
	}
	return conn, id, nil
}

func connectError(err error) error {
	if err == nil || err.Error() == "" {
		return errors.New("failed to connect to server")
	}
	return err
}

// Disconnect closes the connection and forgets the credentials.
// It is safe to call on a disconnected session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.logger.Info("disconnecting", slog.String("database", s.creds.Database))
	}
	s.closeLocked()
	s.creds = db.Credentials{}
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("error closing connection", slog.String("error", err.Error()))
		}
	}
	s.conn = nil
	s.info = nil
}

// Info returns the current connection details.
func (s *Session) Info() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info == nil {
		return Info{}, false
	}
	return *s.info, true
}

// Connected reports whether the session has a live connection.
func (s *Session) Connected() bool {
	_, ok := s.Info()
	return ok
}

// Credentials returns a copy of the credentials of the live connection.
func (s *Session) Credentials() (db.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return db.Credentials{}, ErrNotConnected
	}
	return s.creds.WithDatabase(s.creds.Database), nil
}

// Do runs fn against the live connection while holding the session lock,
// so fn must not call back into the session. When fn fails with a
// connection-level error the connection is recreated from the stored
// credentials and fn is retried once.
func (s *Session) Do(ctx context.Context, fn func(db.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	err := fn(s.conn)
	if err == nil || !IsConnError(err) || ctx.Err() != nil {
		return err
	}

	s.logger.Warn("connection lost, reconnecting", slog.String("error", err.Error()))
	if rerr := s.reconnectLocked(ctx); rerr != nil {
		return fmt.Errorf("%w (reconnect failed: %v)", err, rerr)
	}
	return fn(s.conn)
}

func (s *Session) reconnectLocked(ctx context.Context) error {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil

	conn, id, err := s.dial(ctx, s.creds)
	if err != nil {
		s.info = nil
		return err
	}
	s.conn = conn
	if s.info != nil {
		s.info.ConnectedAs = id.User
		s.info.CurrentDB = id.Database
		s.info.ConnectedAt = time.Now()
	}
	return nil
}

// On runs fn against the named database. The live connection is used when
// it already points there; otherwise a connection scoped to fn is opened
// with the same credentials.
func (s *Session) On(ctx context.Context, database string, fn func(db.DB) error) error {
	creds, err := s.Credentials()
	if err != nil {
		return err
	}

	if database == "" || database == creds.Database || creds.NormalizedDriver() == db.DriverSqlite {
		return s.Do(ctx, fn)
	}

	scoped := creds.WithDatabase(database)
	s.logger.Debug("opening scoped connection", slog.String("database", database))

	conn, err := s.open(ctx, scoped)
	if err != nil {
		return fmt.Errorf("failed to connect to database %q: %w", database, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Warn("error closing scoped connection", slog.String("database", database), slog.String("error", cerr.Error()))
		}
	}()

	return fn(conn)
}

// IsConnError reports whether err means the connection itself is unusable.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"database is closed",
		"conn closed",
		"unexpected eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
