package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register driver

	"github.com/bgunnarsson/binadmin/internal/db"
)

// SqliteDB has no server, so it implements db.DB but not db.Admin.
type SqliteDB struct {
	db   *sql.DB
	path string
}

func Open(path string) (*SqliteDB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}

	// Keep it simple: open by plain path, then enable pragmas explicitly.
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Sane defaults for a CLI tool.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetConnMaxLifetime(5 * time.Minute)

	// Enable foreign keys.
	if _, err := sqldb.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	return &SqliteDB{db: sqldb, path: path}, nil
}

// New wraps an already opened handle.
func New(sqldb *sql.DB, path string) *SqliteDB {
	return &SqliteDB{db: sqldb, path: path}
}

func (s *SqliteDB) Close() error {
	return s.db.Close()
}

func (s *SqliteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SqliteDB) Identity(context.Context) (db.Identity, error) {
	return db.Identity{User: "sqlite", Database: s.path}, nil
}

// ListDatabases returns the attached schemas (main, temp, ...).
func (s *SqliteDB) ListDatabases(ctx context.Context) ([]db.DatabaseInfo, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.DatabaseInfo
	for rows.Next() {
		var seq int
		var name string
		var file sql.NullString
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return nil, err
		}
		out = append(out, db.DatabaseInfo{Name: name, Encoding: "UTF-8"})
	}
	return out, rows.Err()
}

func (s *SqliteDB) ListTables(ctx context.Context) ([]string, error) {
	// Use sqlite_master (works everywhere), include tables + views,
	// hide internal sqlite_% objects.
	const q = `
		SELECT name
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY lower(name);
	`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return db.ScanStrings(rows)
}

func (s *SqliteDB) DescribeTable(ctx context.Context, table string) ([]db.Column, error) {
	q := fmt.Sprintf("PRAGMA table_info(%s);", quoteIdent(table))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []db.Column
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		col := db.Column{
			Name:     name,
			Type:     ctype,
			Nullable: notnull == 0 && pk == 0,
		}
		if dflt.Valid {
			col.Default = &dflt.String
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (s *SqliteDB) Query(ctx context.Context, sqlStr string, args ...any) (*db.Rows, error) {
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// sqlite hands back []byte only for BLOBs; leave them for the printer.
	return db.Collect(rows, nil)
}

func (s *SqliteDB) Exec(ctx context.Context, sqlStr string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// very basic identifier quoting – enough for sqlite
func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
