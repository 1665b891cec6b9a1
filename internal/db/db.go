package db

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by drivers for operations the server (or this
// client) cannot perform.
var ErrUnsupported = errors.New("operation not supported by this driver")

type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default"`
}

type Row []any

type Rows struct {
	Columns []Column
	Data    []Row

	// RowsAffected is set for statements that do not return rows.
	RowsAffected int64
}

// Returning reports whether the rows came from a row-returning statement.
func (r *Rows) Returning() bool {
	return len(r.Columns) > 0
}

type DatabaseInfo struct {
	Name       string `json:"name"`
	Owner      string `json:"owner,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	SizeBytes  int64  `json:"sizeBytes"`
	IsTemplate bool   `json:"isTemplate"`
}

// Identity is what the server reports about the session it just accepted.
type Identity struct {
	User     string
	Database string
}

type DB interface {
	Close() error
	Ping(ctx context.Context) error
	Identity(ctx context.Context) (Identity, error)
	ListDatabases(ctx context.Context) ([]DatabaseInfo, error)
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]Column, error)
	Query(ctx context.Context, sql string, args ...any) (*Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

type CreateOptions struct {
	Name     string `json:"name"`
	Owner    string `json:"owner,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	Template string `json:"template,omitempty"`
}

// Admin is implemented by drivers that can manage databases on the server.
type Admin interface {
	CreateDatabase(ctx context.Context, opts CreateOptions) error
	CloneDatabase(ctx context.Context, source, target string) error
	RenameDatabase(ctx context.Context, from, to string) error
	DropDatabase(ctx context.Context, name string) error
}

// AdminOf returns the admin capability of d, or ErrUnsupported.
func AdminOf(d DB) (Admin, error) {
	a, ok := d.(Admin)
	if !ok {
		return nil, ErrUnsupported
	}
	return a, nil
}
