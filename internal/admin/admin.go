// Package admin implements the browse, query and database management
// commands on top of a session.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/dump"
	"github.com/bgunnarsson/binadmin/internal/history"
	"github.com/bgunnarsson/binadmin/internal/session"
)

// Operation kinds recorded in history.
const (
	KindCreate  = "create"
	KindClone   = "clone"
	KindRename  = "rename"
	KindDrop    = "drop"
	KindBackup  = "backup"
	KindRestore = "restore"
)

// Dumper runs the external tools. *dump.Runner implements it.
type Dumper interface {
	Backup(ctx context.Context, creds db.Credentials, opts dump.BackupOptions, progress dump.ProgressFunc) (*dump.Result, error)
	Restore(ctx context.Context, creds db.Credentials, opts dump.RestoreOptions, progress dump.ProgressFunc) (*dump.Result, error)
	Copy(ctx context.Context, creds db.Credentials, source, target string, schemaOnly bool) error
}

type Service struct {
	sess      *session.Session
	dumper    Dumper
	history   history.Recorder
	logger    *slog.Logger
	backupDir string
	now       func() time.Time
}

type Option func(*Service)

func WithHistory(r history.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.history = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBackupDir sets where generated backup paths are placed.
func WithBackupDir(dir string) Option {
	return func(s *Service) { s.backupDir = dir }
}

func New(sess *session.Session, dumper Dumper, opts ...Option) *Service {
	s := &Service{
		sess:    sess,
		dumper:  dumper,
		history: history.Nop{},
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Session() *session.Session { return s.sess }

// Databases lists the databases on the server. Templates are hidden unless
// includeTemplates is set.
func (s *Service) Databases(ctx context.Context, includeTemplates bool) ([]db.DatabaseInfo, error) {
	var all []db.DatabaseInfo
	err := s.sess.Do(ctx, func(conn db.DB) error {
		var err error
		all, err = conn.ListDatabases(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	if includeTemplates {
		return all, nil
	}

	out := make([]db.DatabaseInfo, 0, len(all))
	for _, d := range all {
		if d.IsTemplate || strings.HasPrefix(d.Name, "template") {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Service) Tables(ctx context.Context, database string) ([]string, error) {
	if database == "" {
		return nil, fmt.Errorf("database %w", ErrNameRequired)
	}

	var tables []string
	err := s.sess.On(ctx, database, func(conn db.DB) error {
		var err error
		tables, err = conn.ListTables(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

func (s *Service) Columns(ctx context.Context, database, table string) ([]db.Column, error) {
	if database == "" {
		return nil, fmt.Errorf("database %w", ErrNameRequired)
	}
	if table == "" {
		return nil, fmt.Errorf("table %w", ErrNameRequired)
	}

	var cols []db.Column
	err := s.sess.On(ctx, database, func(conn db.DB) error {
		var err error
		cols, err = conn.DescribeTable(ctx, table)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %q: %w", table, err)
	}
	return cols, nil
}

// Query runs ad-hoc SQL against database and records it in history.
// Server errors are returned verbatim.
func (s *Service) Query(ctx context.Context, database, sqlText string) (*db.Rows, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return nil, ErrSQLRequired
	}

	started := s.now()
	var rows *db.Rows
	err := s.sess.On(ctx, database, func(conn db.DB) error {
		var err error
		rows, err = db.Run(ctx, conn, sqlText)
		return err
	})

	entry := history.QueryEntry{
		Database:   database,
		SQL:        sqlText,
		Duration:   s.now().Sub(started),
		ExecutedAt: started,
	}
	if err != nil {
		entry.Error = err.Error()
	} else if rows.Returning() {
		entry.Rows = int64(len(rows.Data))
	} else {
		entry.Rows = rows.RowsAffected
	}
	if herr := s.history.RecordQuery(ctx, entry); herr != nil {
		s.logger.Warn("failed to record query", slog.String("error", herr.Error()))
	}

	if err != nil {
		return nil, err
	}
	return rows, nil
}

// exists reports whether a database other than except is named name,
// ignoring case.
func (s *Service) exists(ctx context.Context, name, except string) (bool, error) {
	all, err := s.Databases(ctx, true)
	if err != nil {
		return false, err
	}
	for _, d := range all {
		if d.Name == except {
			continue
		}
		if strings.EqualFold(d.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) requireAbsent(ctx context.Context, name, except string) error {
	found, err := s.exists(ctx, name, except)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("database %q %w", name, ErrAlreadyExists)
	}
	return nil
}

func (s *Service) withAdmin(ctx context.Context, fn func(db.Admin) error) error {
	return s.sess.Do(ctx, func(conn db.DB) error {
		a, err := db.AdminOf(conn)
		if err != nil {
			return err
		}
		return fn(a)
	})
}

func (s *Service) CreateDatabase(ctx context.Context, opts db.CreateOptions) (err error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return fmt.Errorf("database %w", ErrNameRequired)
	}
	if err := s.requireAbsent(ctx, opts.Name, ""); err != nil {
		return err
	}

	defer s.record(ctx, KindCreate, opts.Name, "", s.now(), &err)

	err = s.withAdmin(ctx, func(a db.Admin) error {
		return a.CreateDatabase(ctx, opts)
	})
	if err != nil {
		return fmt.Errorf("failed to create database %q: %w", opts.Name, err)
	}
	s.logger.Info("database created", slog.String("database", opts.Name))
	return nil
}

// CloneDatabase copies source into a new database named target. With data
// it prefers a server-side copy and falls back to a dump pipe; schema only
// always uses the pipe.
func (s *Service) CloneDatabase(ctx context.Context, source, target string, withData bool) (err error) {
	source = strings.TrimSpace(source)
	target = strings.TrimSpace(target)
	if source == "" {
		return fmt.Errorf("source database %w", ErrNameRequired)
	}
	if target == "" {
		return fmt.Errorf("target database %w", ErrNameRequired)
	}
	if strings.EqualFold(source, target) {
		return fmt.Errorf("target database %q: %w", target, ErrSameName)
	}
	if err := s.requireAbsent(ctx, target, ""); err != nil {
		return err
	}

	detail := "from " + source
	if !withData {
		detail += " (schema only)"
	}
	defer s.record(ctx, KindClone, target, detail, s.now(), &err)

	if withData {
		err = s.withAdmin(ctx, func(a db.Admin) error {
			return a.CloneDatabase(ctx, source, target)
		})
		if err == nil {
			s.logger.Info("database cloned", slog.String("source", source), slog.String("target", target))
			return nil
		}
		if !errors.Is(err, db.ErrUnsupported) {
			return fmt.Errorf("failed to clone database %q: %w", source, err)
		}
		s.logger.Debug("server-side clone unsupported, using dump pipe")
	}

	creds, err := s.sess.Credentials()
	if err != nil {
		return err
	}
	if !dump.SupportsCopy(creds.NormalizedDriver()) {
		return fmt.Errorf("failed to clone database %q: %w", source, db.ErrUnsupported)
	}

	err = s.withAdmin(ctx, func(a db.Admin) error {
		return a.CreateDatabase(ctx, db.CreateOptions{Name: target})
	})
	if err != nil {
		return fmt.Errorf("failed to create database %q: %w", target, err)
	}

	if err = s.dumper.Copy(ctx, creds, source, target, !withData); err != nil {
		s.cleanup(context.WithoutCancel(ctx), target)
		return fmt.Errorf("failed to copy %q into %q: %w", source, target, err)
	}

	s.logger.Info("database cloned", slog.String("source", source), slog.String("target", target), slog.Bool("with_data", withData))
	return nil
}

// cleanup drops a half-built clone target.
func (s *Service) cleanup(ctx context.Context, name string) {
	err := s.withAdmin(ctx, func(a db.Admin) error {
		return a.DropDatabase(ctx, name)
	})
	if err != nil {
		s.logger.Warn("failed to drop incomplete clone", slog.String("database", name), slog.String("error", err.Error()))
	}
}

func (s *Service) RenameDatabase(ctx context.Context, current, newName string) (err error) {
	current = strings.TrimSpace(current)
	newName = strings.TrimSpace(newName)
	if current == "" {
		return fmt.Errorf("database %w", ErrNameRequired)
	}
	if newName == "" {
		return fmt.Errorf("new database %w", ErrNameRequired)
	}
	if newName == current {
		return ErrSameName
	}
	if err := s.requireAbsent(ctx, newName, current); err != nil {
		return err
	}

	defer s.record(ctx, KindRename, current, "to "+newName, s.now(), &err)

	err = s.withAdmin(ctx, func(a db.Admin) error {
		return a.RenameDatabase(ctx, current, newName)
	})
	if err != nil {
		return fmt.Errorf("failed to rename database %q: %w", current, err)
	}
	s.logger.Info("database renamed", slog.String("from", current), slog.String("to", newName))
	return nil
}

// DeleteDatabase drops name once confirm repeats it exactly.
func (s *Service) DeleteDatabase(ctx context.Context, name, confirm string) (err error) {
	if name == "" {
		return fmt.Errorf("database %w", ErrNameRequired)
	}
	if confirm != name {
		return fmt.Errorf("database %q: %w", name, ErrConfirmMismatch)
	}

	defer s.record(ctx, KindDrop, name, "", s.now(), &err)

	err = s.withAdmin(ctx, func(a db.Admin) error {
		return a.DropDatabase(ctx, name)
	})
	if err != nil {
		return fmt.Errorf("failed to delete database %q: %w", name, err)
	}
	s.logger.Info("database deleted", slog.String("database", name))
	return nil
}

type BackupRequest struct {
	Database    string `json:"database"`
	Format      string `json:"format"`
	Compression int    `json:"compression"`
	Path        string `json:"path,omitempty"`
}

func (s *Service) Backup(ctx context.Context, req BackupRequest, progress dump.ProgressFunc) (res *dump.Result, err error) {
	if req.Database == "" {
		return nil, fmt.Errorf("database %w", ErrNameRequired)
	}
	format, err := dump.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	if req.Compression < 0 || req.Compression > 9 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidCompression, req.Compression)
	}
	creds, err := s.sess.Credentials()
	if err != nil {
		return nil, err
	}

	// Table count only drives the progress bar.
	tables, terr := s.Tables(ctx, req.Database)
	if terr != nil {
		s.logger.Debug("could not count tables", slog.String("error", terr.Error()))
	}

	started := s.now()
	detail := req.Path
	defer func() { s.record(ctx, KindBackup, req.Database, detail, started, &err) }()

	res, err = s.dumper.Backup(ctx, creds, dump.BackupOptions{
		Database:    req.Database,
		Format:      format,
		Compression: req.Compression,
		Path:        req.Path,
		Dir:         s.backupDir,
		Tables:      len(tables),
	}, progress)
	if res != nil {
		detail = res.Path
	}
	if err != nil {
		return res, fmt.Errorf("backup of %q failed: %w", req.Database, err)
	}
	return res, nil
}

type RestoreRequest struct {
	Database          string `json:"database"`
	File              string `json:"file"`
	Clean             bool   `json:"clean"`
	SingleTransaction bool   `json:"singleTransaction"`
}

func (s *Service) Restore(ctx context.Context, req RestoreRequest, progress dump.ProgressFunc) (res *dump.Result, err error) {
	if req.Database == "" {
		return nil, fmt.Errorf("database %w", ErrNameRequired)
	}
	if req.File == "" {
		return nil, ErrFileRequired
	}
	if _, err := os.Stat(req.File); err != nil {
		return nil, fmt.Errorf("backup file %q: %w", req.File, err)
	}
	creds, err := s.sess.Credentials()
	if err != nil {
		return nil, err
	}

	defer s.record(ctx, KindRestore, req.Database, "from "+req.File, s.now(), &err)

	res, err = s.dumper.Restore(ctx, creds, dump.RestoreOptions{
		Database:          req.Database,
		File:              req.File,
		Clean:             req.Clean,
		SingleTransaction: req.SingleTransaction,
	}, progress)
	if err != nil {
		return res, fmt.Errorf("restore of %q failed: %w", req.Database, err)
	}
	return res, nil
}

// record stores the outcome of a mutating operation. errp is read when the
// deferred call runs.
func (s *Service) record(ctx context.Context, kind, database, detail string, started time.Time, errp *error) {
	op := history.Operation{
		Kind:       kind,
		Database:   database,
		Detail:     detail,
		Status:     history.StatusSucceeded,
		StartedAt:  started,
		FinishedAt: s.now(),
	}
	if errp != nil && *errp != nil {
		op.Status = history.StatusFailed
		op.Error = (*errp).Error()
	}
	if err := s.history.RecordOperation(context.WithoutCancel(ctx), op); err != nil {
		s.logger.Warn("failed to record operation", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}
