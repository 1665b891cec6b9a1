package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/bgunnarsson/binadmin/internal/db"
)

type MysqlDB struct {
	db *sql.DB
}

// DSN builds a go-sql-driver DSN from credentials.
func DSN(c db.Credentials) string {
	cfg := gomysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.HostOrDefault(), strconv.Itoa(c.PortOrDefault()))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	if c.SSLMode != "" && c.SSLMode != "disable" {
		cfg.TLSConfig = "true"
	}
	if len(c.Options) > 0 {
		cfg.Params = make(map[string]string, len(c.Options))
		for k, v := range c.Options {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

func Open(dsn string) (*MysqlDB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty mysql DSN")
	}

	sqldb, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxOpenConns(4)
	sqldb.SetMaxIdleConns(4)
	sqldb.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}

	return &MysqlDB{db: sqldb}, nil
}

// New wraps an already opened pool.
func New(sqldb *sql.DB) *MysqlDB {
	return &MysqlDB{db: sqldb}
}

// --- db.DB implementation ---

func (m *MysqlDB) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *MysqlDB) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MysqlDB) Identity(ctx context.Context) (db.Identity, error) {
	var id db.Identity
	var current sql.NullString
	if err := m.db.QueryRowContext(ctx, `SELECT CURRENT_USER(), DATABASE()`).Scan(&id.User, &current); err != nil {
		return id, err
	}
	id.Database = current.String
	return id, nil
}

func (m *MysqlDB) ListDatabases(ctx context.Context) ([]db.DatabaseInfo, error) {
	const q = `
SELECT s.schema_name,
       s.default_character_set_name,
       COALESCE(SUM(t.data_length + t.index_length), 0)
FROM information_schema.schemata s
LEFT JOIN information_schema.tables t ON t.table_schema = s.schema_name
WHERE s.schema_name NOT IN ('information_schema', 'performance_schema', 'mysql', 'sys')
GROUP BY s.schema_name, s.default_character_set_name
ORDER BY s.schema_name;
`
	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.DatabaseInfo
	for rows.Next() {
		var d db.DatabaseInfo
		if err := rows.Scan(&d.Name, &d.Encoding, &d.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MysqlDB) ListTables(ctx context.Context) ([]string, error) {
	const q = `
SELECT table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema = DATABASE()
ORDER BY table_name;
`
	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return db.ScanStrings(rows)
}

func (m *MysqlDB) DescribeTable(ctx context.Context, table string) ([]db.Column, error) {
	const q = `
SELECT column_name, data_type, is_nullable = 'YES', column_default
FROM information_schema.columns
WHERE table_schema = DATABASE()
  AND table_name = ?
ORDER BY ordinal_position;
`
	rows, err := m.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []db.Column
	for rows.Next() {
		var col db.Column
		var dflt sql.NullString
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &dflt); err != nil {
			return nil, err
		}
		if dflt.Valid {
			col.Default = &dflt.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

func (m *MysqlDB) Query(ctx context.Context, sqlQuery string, args ...any) (*db.Rows, error) {
	rows, err := m.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// MySQL returns TEXT/VARCHAR as []byte
	return db.Collect(rows, db.TextValue)
}

func (m *MysqlDB) Exec(ctx context.Context, sqlQuery string, args ...any) (int64, error) {
	res, err := m.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- db.Admin implementation ---

func (m *MysqlDB) CreateDatabase(ctx context.Context, opts db.CreateOptions) error {
	if opts.Owner != "" || opts.Template != "" {
		return fmt.Errorf("owner and template: %w", db.ErrUnsupported)
	}
	q := "CREATE DATABASE " + QuoteIdent(opts.Name)
	if opts.Encoding != "" {
		cs := charset(opts.Encoding)
		if !validCharset(cs) {
			return fmt.Errorf("invalid character set %q", opts.Encoding)
		}
		q += " CHARACTER SET " + cs
	}
	_, err := m.db.ExecContext(ctx, q)
	return err
}

// CloneDatabase has no server-side equivalent; callers fall back to a
// dump pipe.
func (m *MysqlDB) CloneDatabase(context.Context, string, string) error {
	return db.ErrUnsupported
}

// RenameDatabase is not supported: MySQL removed RENAME DATABASE.
func (m *MysqlDB) RenameDatabase(context.Context, string, string) error {
	return db.ErrUnsupported
}

func (m *MysqlDB) DropDatabase(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, "DROP DATABASE "+QuoteIdent(name))
	return err
}

func QuoteIdent(id string) string {
	return db.QuoteWith(id, "`", "`")
}

// charset maps postgres-style encoding names onto MySQL character sets.
func charset(enc string) string {
	switch strings.ToUpper(strings.ReplaceAll(enc, "-", "")) {
	case "UTF8", "UTF8MB4":
		return "utf8mb4"
	case "LATIN1":
		return "latin1"
	case "SQL_ASCII", "ASCII":
		return "ascii"
	default:
		return strings.ToLower(enc)
	}
}

func validCharset(cs string) bool {
	if cs == "" {
		return false
	}
	for _, r := range cs {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' {
			return false
		}
	}
	return true
}
