package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/binadmin/internal/db"
)

func newMock(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })
	return New(sqldb), mock
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name  string
		creds db.Credentials
		want  string
	}{
		{
			name:  "defaults",
			creds: db.Credentials{},
			want:  "host=localhost port=5432 dbname=postgres sslmode=disable",
		},
		{
			name: "full",
			creds: db.Credentials{
				Host:     "db.internal",
				Port:     6543,
				User:     "admin",
				Password: "s3cret pass",
				Database: "app",
				SSLMode:  "require",
				Options:  map[string]string{"connect_timeout": "5", "application_name": "binadmin"},
			},
			want: "host=db.internal port=6543 dbname=app sslmode=require user=admin password='s3cret pass' application_name=binadmin connect_timeout=5",
		},
		{
			name:  "quote escaping",
			creds: db.Credentials{Password: `it's\x`},
			want:  `host=localhost port=5432 dbname=postgres sslmode=disable password='it\'s\\x'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.creds))
		})
	}
}

func TestOpenEmptyDSN(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_user, current_database()")).
		WillReturnRows(sqlmock.NewRows([]string{"current_user", "current_database"}).AddRow("admin", "postgres"))

	id, err := p.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, db.Identity{User: "admin", Database: "postgres"}, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDatabases(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("FROM pg_catalog.pg_database d").
		WillReturnRows(sqlmock.NewRows([]string{"datname", "owner", "encoding", "size", "datistemplate"}).
			AddRow("app", "admin", "UTF8", int64(8192), false).
			AddRow("template1", "postgres", "UTF8", int64(7000), true))

	dbs, err := p.ListDatabases(context.Background())
	require.NoError(t, err)
	require.Len(t, dbs, 2)
	assert.Equal(t, db.DatabaseInfo{Name: "app", Owner: "admin", Encoding: "UTF8", SizeBytes: 8192}, dbs[0])
	assert.True(t, dbs[1].IsTemplate)
}

func TestListTables(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("public.users").AddRow("sales.orders"))

	tables, err := p.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"public.users", "sales.orders"}, tables)
}

func TestDescribeTable(t *testing.T) {
	tests := []struct {
		table  string
		schema string
		name   string
	}{
		{"users", "public", "users"},
		{"sales.orders", "sales", "orders"},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			p, mock := newMock(t)
			mock.ExpectQuery("FROM information_schema.columns").
				WithArgs(tt.schema, tt.name).
				WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "column_default"}).
					AddRow("id", "integer", false, "nextval('users_id_seq'::regclass)").
					AddRow("email", "text", true, nil))

			cols, err := p.DescribeTable(context.Background(), tt.table)
			require.NoError(t, err)
			require.Len(t, cols, 2)
			assert.Equal(t, "id", cols[0].Name)
			assert.False(t, cols[0].Nullable)
			require.NotNil(t, cols[0].Default)
			assert.Equal(t, "nextval('users_id_seq'::regclass)", *cols[0].Default)
			assert.True(t, cols[1].Nullable)
			assert.Nil(t, cols[1].Default)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestQueryNormalisesValues(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("SELECT name, n FROM t").
		WillReturnRows(sqlmock.NewRows([]string{"name", "n"}).AddRow([]byte("alice"), int64(1)))

	rows, err := p.Query(context.Background(), "SELECT name, n FROM t")
	require.NoError(t, err)
	require.Len(t, rows.Columns, 2)
	require.Len(t, rows.Data, 1)
	assert.Equal(t, "alice", rows.Data[0][0])
	assert.Equal(t, int64(1), rows.Data[0][1])
}

func TestExec(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := p.Exec(context.Background(), "DELETE FROM t")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestAdminStatements(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		want string
		run  func(p *PostgresDB) error
	}{
		{
			name: "create plain",
			want: `CREATE DATABASE "shop"`,
			run: func(p *PostgresDB) error {
				return p.CreateDatabase(ctx, db.CreateOptions{Name: "shop"})
			},
		},
		{
			name: "create with options",
			want: `CREATE DATABASE "shop" OWNER "app" ENCODING 'UTF8' TEMPLATE "template0"`,
			run: func(p *PostgresDB) error {
				return p.CreateDatabase(ctx, db.CreateOptions{Name: "shop", Owner: "app", Encoding: "UTF8", Template: "template0"})
			},
		},
		{
			name: "clone",
			want: `CREATE DATABASE "shop_copy" TEMPLATE "shop"`,
			run: func(p *PostgresDB) error {
				return p.CloneDatabase(ctx, "shop", "shop_copy")
			},
		},
		{
			name: "rename",
			want: `ALTER DATABASE "shop" RENAME TO "store"`,
			run: func(p *PostgresDB) error {
				return p.RenameDatabase(ctx, "shop", "store")
			},
		},
		{
			name: "drop quotes identifiers",
			want: `DROP DATABASE "bad""name"`,
			run: func(p *PostgresDB) error {
				return p.DropDatabase(ctx, `bad"name`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newMock(t)
			mock.ExpectExec("^" + regexp.QuoteMeta(tt.want) + "$").WillReturnResult(sqlmock.NewResult(0, 0))

			require.NoError(t, tt.run(p))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestImplementsAdmin(t *testing.T) {
	p, _ := newMock(t)
	_, err := db.AdminOf(p)
	assert.NoError(t, err)
}
