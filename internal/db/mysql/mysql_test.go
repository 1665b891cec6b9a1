package mysql

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/binadmin/internal/db"
)

func newMock(t *testing.T) (*MysqlDB, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })
	return New(sqldb), mock
}

func TestDSN(t *testing.T) {
	dsn := DSN(db.Credentials{
		Driver:   "mysql",
		Host:     "db.local",
		User:     "root",
		Password: "p@ss:word",
		Database: "shop",
		Options:  map[string]string{"charset": "utf8mb4"},
	})

	cfg, err := gomysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, "p@ss:word", cfg.Passwd)
	assert.Equal(t, "db.local:3306", cfg.Addr)
	assert.Equal(t, "shop", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "utf8mb4", cfg.Params["charset"])
}

func TestIdentityWithoutDatabase(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT CURRENT_USER(), DATABASE()")).
		WillReturnRows(sqlmock.NewRows([]string{"user", "db"}).AddRow("root@%", nil))

	id, err := m.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "root@%", id.User)
	assert.Empty(t, id.Database)
}

func TestListDatabases(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery("FROM information_schema.schemata").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name", "charset", "size"}).
			AddRow("shop", "utf8mb4", int64(16384)))

	dbs, err := m.ListDatabases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []db.DatabaseInfo{{Name: "shop", Encoding: "utf8mb4", SizeBytes: 16384}}, dbs)
}

func TestDescribeTable(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "column_default"}).
			AddRow("id", "int", false, nil))

	cols, err := m.DescribeTable(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, []db.Column{{Name: "id", Type: "int"}}, cols)
}

func TestCreateDatabase(t *testing.T) {
	tests := []struct {
		name    string
		opts    db.CreateOptions
		want    string
		wantErr error
	}{
		{
			name: "plain",
			opts: db.CreateOptions{Name: "shop"},
			want: "CREATE DATABASE `shop`",
		},
		{
			name: "encoding mapped",
			opts: db.CreateOptions{Name: "shop", Encoding: "UTF8"},
			want: "CREATE DATABASE `shop` CHARACTER SET utf8mb4",
		},
		{
			name:    "owner unsupported",
			opts:    db.CreateOptions{Name: "shop", Owner: "app"},
			wantErr: db.ErrUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newMock(t)
			if tt.want != "" {
				mock.ExpectExec("^" + regexp.QuoteMeta(tt.want) + "$").WillReturnResult(sqlmock.NewResult(0, 1))
			}

			err := m.CreateDatabase(context.Background(), tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreateDatabaseRejectsOddCharset(t *testing.T) {
	m, _ := newMock(t)
	err := m.CreateDatabase(context.Background(), db.CreateOptions{Name: "x", Encoding: "utf8; DROP"})
	assert.Error(t, err)
}

func TestUnsupportedAdmin(t *testing.T) {
	m, _ := newMock(t)
	ctx := context.Background()
	assert.ErrorIs(t, m.RenameDatabase(ctx, "a", "b"), db.ErrUnsupported)
	assert.ErrorIs(t, m.CloneDatabase(ctx, "a", "b"), db.ErrUnsupported)
}

func TestDropDatabase(t *testing.T) {
	m, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DROP DATABASE `od``d`")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.DropDatabase(context.Background(), "od`d"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
