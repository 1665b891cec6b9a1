// Package history keeps a local log of executed queries and admin
// operations in a SQLite file.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // register driver
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type QueryEntry struct {
	ID         int64         `json:"id"`
	Database   string        `json:"database"`
	SQL        string        `json:"sql"`
	Rows       int64         `json:"rows"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	ExecutedAt time.Time     `json:"executedAt"`
}

type Operation struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Database   string    `json:"database"`
	Detail     string    `json:"detail,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Recorder is the write side used while running commands.
type Recorder interface {
	RecordQuery(ctx context.Context, e QueryEntry) error
	RecordOperation(ctx context.Context, op Operation) error
}

// Nop discards everything. It is used when no history path is configured.
type Nop struct{}

func (Nop) RecordQuery(context.Context, QueryEntry) error   { return nil }
func (Nop) RecordOperation(context.Context, Operation) error { return nil }

type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the history file. Call Migrate before use.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty history path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return &Store{db: sqldb, path: path}, nil
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) RecordQuery(ctx context.Context, e QueryEntry) error {
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO queries ("database", sql, "rows", duration_ms, error, executed_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		e.Database, e.SQL, e.Rows, e.Duration.Milliseconds(), e.Error, e.ExecutedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

func (s *Store) RecordOperation(ctx context.Context, op Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.FinishedAt.IsZero() {
		op.FinishedAt = time.Now()
	}
	if op.StartedAt.IsZero() {
		op.StartedAt = op.FinishedAt
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO operations (id, kind, "database", detail, status, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Kind, op.Database, op.Detail, op.Status, op.Error,
		op.StartedAt.UnixMilli(), op.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}
	return nil
}

// Queries returns the most recent queries first. limit <= 0 means all.
func (s *Store) Queries(ctx context.Context, limit int) ([]QueryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, "database", sql, "rows", duration_ms, error, executed_at
FROM queries
ORDER BY executed_at DESC, id DESC
LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	var out []QueryEntry
	for rows.Next() {
		var e QueryEntry
		var durMS, at int64
		if err := rows.Scan(&e.ID, &e.Database, &e.SQL, &e.Rows, &durMS, &e.Error, &at); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durMS) * time.Millisecond
		e.ExecutedAt = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Operations returns the most recent operations first. limit <= 0 means all.
func (s *Store) Operations(ctx context.Context, limit int) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, "database", detail, status, error, started_at, finished_at
FROM operations
ORDER BY started_at DESC, rowid DESC
LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		var started, finished int64
		if err := rows.Scan(&op.ID, &op.Kind, &op.Database, &op.Detail, &op.Status, &op.Error, &started, &finished); err != nil {
			return nil, err
		}
		op.StartedAt = time.UnixMilli(started)
		op.FinishedAt = time.UnixMilli(finished)
		out = append(out, op)
	}
	return out, rows.Err()
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
