package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"

	"github.com/bgunnarsson/binadmin/internal/db"
)

type MssqlDB struct {
	db *sql.DB
}

// DSN builds a sqlserver:// URL from credentials. Options become query
// parameters, so fedauth=ActiveDirectoryDefault and friends pass through.
func DSN(c db.Credentials) string {
	u := &url.URL{
		Scheme: "sqlserver",
		Host:   net.JoinHostPort(c.HostOrDefault(), strconv.Itoa(c.PortOrDefault())),
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}

	q := url.Values{}
	q.Set("database", c.DatabaseOrDefault())
	switch c.SSLMode {
	case "", "disable":
		q.Set("encrypt", "disable")
	default:
		q.Set("encrypt", "true")
	}
	for k, v := range c.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens a MSSQL connection.
// If the DSN contains "fedauth=", we use the Azure AD driver (azuresql)
// so things like ActiveDirectoryInteractive / AzCli work.
func Open(dsn string) (*MssqlDB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty mssql DSN")
	}

	driverName := "sqlserver"
	if strings.Contains(strings.ToLower(dsn), "fedauth=") {
		driverName = azuread.DriverName // "azuresql"
	}

	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// small CLI defaults
	sqldb.SetMaxOpenConns(4)
	sqldb.SetMaxIdleConns(4)
	sqldb.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}

	return &MssqlDB{db: sqldb}, nil
}

// New wraps an already opened pool.
func New(sqldb *sql.DB) *MssqlDB {
	return &MssqlDB{db: sqldb}
}

// --- db.DB implementation ---

func (m *MssqlDB) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *MssqlDB) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MssqlDB) Identity(ctx context.Context) (db.Identity, error) {
	var id db.Identity
	err := m.db.QueryRowContext(ctx, `SELECT SUSER_SNAME(), DB_NAME()`).Scan(&id.User, &id.Database)
	return id, err
}

func (m *MssqlDB) ListDatabases(ctx context.Context) ([]db.DatabaseInfo, error) {
	const q = `
SELECT d.name,
       COALESCE(SUSER_SNAME(d.owner_sid), ''),
       COALESCE(d.collation_name, ''),
       COALESCE((SELECT SUM(CAST(f.size AS BIGINT)) * 8192 FROM sys.master_files f WHERE f.database_id = d.database_id), 0)
FROM sys.databases d
WHERE d.name NOT IN ('master', 'tempdb', 'model', 'msdb')
ORDER BY d.name;
`
	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.DatabaseInfo
	for rows.Next() {
		var d db.DatabaseInfo
		if err := rows.Scan(&d.Name, &d.Owner, &d.Encoding, &d.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MssqlDB) ListTables(ctx context.Context) ([]string, error) {
	const q = `
SELECT TABLE_SCHEMA + '.' + TABLE_NAME AS name
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_SCHEMA, TABLE_NAME;
`
	rows, err := m.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return db.ScanStrings(rows)
}

// DescribeTable returns column metadata in ordinal order.
// Accepts either "table" or "schema.table".
func (m *MssqlDB) DescribeTable(ctx context.Context, table string) ([]db.Column, error) {
	schema := "dbo"
	name := table
	if dot := strings.Index(table, "."); dot != -1 {
		schema = table[:dot]
		name = table[dot+1:]
	}

	const q = `
SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION;
`
	rows, err := m.db.QueryContext(ctx, q, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []db.Column
	for rows.Next() {
		var col db.Column
		var nullable string
		var dflt sql.NullString
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &dflt); err != nil {
			return nil, err
		}
		col.Nullable = nullable == "YES"
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

func (m *MssqlDB) Query(ctx context.Context, sqlQuery string, args ...any) (*db.Rows, error) {
	rows, err := m.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return db.Collect(rows, normalize)
}

func (m *MssqlDB) Exec(ctx context.Context, sqlQuery string, args ...any) (int64, error) {
	res, err := m.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func normalize(v any, dbType string) any {
	switch x := v.(type) {
	case []byte:
		// NEVER string() binary; it wrecks the table.
		switch dbType {
		case "uniqueidentifier":
			return formatUniqueIdentifier(x)
		case "varchar", "nvarchar", "char", "nchar", "text", "ntext", "decimal", "money", "smallmoney":
			return string(x)
		default:
			// safe hex representation for any other binary
			return fmt.Sprintf("0x%x", x)
		}
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}

// --- db.Admin implementation ---

func (m *MssqlDB) CreateDatabase(ctx context.Context, opts db.CreateOptions) error {
	if opts.Owner != "" || opts.Template != "" || opts.Encoding != "" {
		return fmt.Errorf("owner, encoding and template: %w", db.ErrUnsupported)
	}
	_, err := m.db.ExecContext(ctx, "CREATE DATABASE "+QuoteIdent(opts.Name))
	return err
}

func (m *MssqlDB) CloneDatabase(context.Context, string, string) error {
	return db.ErrUnsupported
}

func (m *MssqlDB) RenameDatabase(ctx context.Context, from, to string) error {
	q := fmt.Sprintf("ALTER DATABASE %s MODIFY NAME = %s", QuoteIdent(from), QuoteIdent(to))
	_, err := m.db.ExecContext(ctx, q)
	return err
}

func (m *MssqlDB) DropDatabase(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, "DROP DATABASE "+QuoteIdent(name))
	return err
}

func QuoteIdent(id string) string {
	return db.QuoteWith(id, "[", "]")
}

func formatUniqueIdentifier(b []byte) string {
	if len(b) != 16 {
		return fmt.Sprintf("%x", b)
	}

	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15],
	)
}
