package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx stdlib driver

	"github.com/bgunnarsson/binadmin/internal/db"
)

type PostgresDB struct {
	db *sql.DB
}

// DSN builds a key=value connection string from credentials.
func DSN(c db.Credentials) string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + quoteValue(c.HostOrDefault()),
		fmt.Sprintf("port=%d", c.PortOrDefault()),
		"dbname=" + quoteValue(c.DatabaseOrDefault()),
		"sslmode=" + quoteValue(sslmode),
	}
	if c.User != "" {
		parts = append(parts, "user="+quoteValue(c.User))
	}
	if c.Password != "" {
		parts = append(parts, "password="+quoteValue(c.Password))
	}
	keys := make([]string, 0, len(c.Options))
	for k := range c.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+quoteValue(c.Options[k]))
	}
	return strings.Join(parts, " ")
}

// quoteValue quotes a libpq keyword value when it contains spaces, quotes
// or backslashes.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func Open(dsn string) (*PostgresDB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres DSN")
	}

	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	// Sane defaults for a small CLI tool.
	sqldb.SetMaxOpenConns(4)
	sqldb.SetMaxIdleConns(4)
	sqldb.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}

	return &PostgresDB{db: sqldb}, nil
}

// New wraps an already opened pool.
func New(sqldb *sql.DB) *PostgresDB {
	return &PostgresDB{db: sqldb}
}

func (p *PostgresDB) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) Identity(ctx context.Context) (db.Identity, error) {
	var id db.Identity
	err := p.db.QueryRowContext(ctx, `SELECT current_user, current_database()`).Scan(&id.User, &id.Database)
	return id, err
}

func (p *PostgresDB) ListDatabases(ctx context.Context) ([]db.DatabaseInfo, error) {
	const q = `
SELECT d.datname,
       pg_catalog.pg_get_userbyid(d.datdba),
       pg_catalog.pg_encoding_to_char(d.encoding),
       CASE WHEN has_database_privilege(d.datname, 'CONNECT')
            THEN pg_catalog.pg_database_size(d.datname)
            ELSE 0 END,
       d.datistemplate
FROM pg_catalog.pg_database d
ORDER BY d.datname;
`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.DatabaseInfo
	for rows.Next() {
		var d db.DatabaseInfo
		if err := rows.Scan(&d.Name, &d.Owner, &d.Encoding, &d.SizeBytes, &d.IsTemplate); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresDB) ListTables(ctx context.Context) ([]string, error) {
	const q = `
SELECT table_schema || '.' || table_name AS name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name;
`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return db.ScanStrings(rows)
}

// DescribeTable returns column metadata in ordinal order.
// Accepts either "table" or "schema.table".
func (p *PostgresDB) DescribeTable(ctx context.Context, table string) ([]db.Column, error) {
	schema := "public"
	name := table
	if dot := strings.Index(table, "."); dot != -1 {
		schema = table[:dot]
		name = table[dot+1:]
	}

	const q = `
SELECT column_name, data_type, is_nullable = 'YES', column_default
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name = $2
ORDER BY ordinal_position;
`
	rows, err := p.db.QueryContext(ctx, q, schema, name)
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

func (p *PostgresDB) Query(ctx context.Context, sqlQuery string, args ...any) (*db.Rows, error) {
	rows, err := p.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return db.Collect(rows, db.TextValue)
}

func (p *PostgresDB) Exec(ctx context.Context, sqlQuery string, args ...any) (int64, error) {
	res, err := p.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- db.Admin implementation ---

// CREATE/ALTER/DROP DATABASE take no bind parameters, so identifiers and
// the encoding literal are quoted here.

func (p *PostgresDB) CreateDatabase(ctx context.Context, opts db.CreateOptions) error {
	var b strings.Builder
	b.WriteString("CREATE DATABASE ")
	b.WriteString(QuoteIdent(opts.Name))
	if opts.Owner != "" {
		b.WriteString(" OWNER ")
		b.WriteString(QuoteIdent(opts.Owner))
	}
	if opts.Encoding != "" {
		b.WriteString(" ENCODING ")
		b.WriteString(quoteLiteral(opts.Encoding))
	}
	if opts.Template != "" {
		b.WriteString(" TEMPLATE ")
		b.WriteString(QuoteIdent(opts.Template))
	}

	_, err := p.db.ExecContext(ctx, b.String())
	return err
}

// CloneDatabase copies schema and data server-side using source as template.
// The server refuses while other sessions are connected to source.
func (p *PostgresDB) CloneDatabase(ctx context.Context, source, target string) error {
	q := fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", QuoteIdent(target), QuoteIdent(source))
	_, err := p.db.ExecContext(ctx, q)
	return err
}

func (p *PostgresDB) RenameDatabase(ctx context.Context, from, to string) error {
	q := fmt.Sprintf("ALTER DATABASE %s RENAME TO %s", QuoteIdent(from), QuoteIdent(to))
	_, err := p.db.ExecContext(ctx, q)
	return err
}

func (p *PostgresDB) DropDatabase(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, "DROP DATABASE "+QuoteIdent(name))
	return err
}

func QuoteIdent(id string) string {
	return db.QuoteWith(id, `"`, `"`)
}

func quoteLiteral(s string) string {
	return db.QuoteWith(s, `'`, `'`)
}
