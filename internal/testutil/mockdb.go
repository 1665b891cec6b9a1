package testutil

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/db/postgres"
)

// IdentityQuery matches the postgres identity check run on connect.
var IdentityQuery = regexp.QuoteMeta(`SELECT current_user, current_database()`)

// MockServer opens sqlmock-backed postgres connections. Its Open method
// satisfies session.Opener.
type MockServer struct {
	t testing.TB

	mu    sync.Mutex
	Opens []db.Credentials
	Mocks []sqlmock.Sqlmock
	Fail  error

	// Setup registers expectations on every new connection. By default it
	// expects the identity query.
	Setup func(creds db.Credentials, mock sqlmock.Sqlmock)
}

func NewMockServer(t testing.TB) *MockServer {
	return &MockServer{
		t: t,
		Setup: func(creds db.Credentials, mock sqlmock.Sqlmock) {
			ExpectIdentity(mock, creds.User, creds.Database)
		},
	}
}

func (m *MockServer) Open(_ context.Context, creds db.Credentials) (db.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Opens = append(m.Opens, creds)
	if m.Fail != nil {
		return nil, m.Fail
	}

	sqldb, mock, err := sqlmock.New()
	require.NoError(m.t, err)
	m.t.Cleanup(func() { _ = sqldb.Close() })

	if m.Setup != nil {
		m.Setup(creds, mock)
	}
	m.Mocks = append(m.Mocks, mock)
	return postgres.New(sqldb), nil
}

// Mock returns the i-th opened connection's mock.
func (m *MockServer) Mock(i int) sqlmock.Sqlmock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Mocks[i]
}

func ExpectIdentity(mock sqlmock.Sqlmock, user, database string) {
	mock.ExpectQuery(IdentityQuery).
		WillReturnRows(sqlmock.NewRows([]string{"current_user", "current_database"}).AddRow(user, database))
}

// ExpectDatabases expects one pg_database listing with the given names.
// Names starting with "template" are flagged as templates.
func ExpectDatabases(mock sqlmock.Sqlmock, names ...string) {
	rows := sqlmock.NewRows([]string{"datname", "owner", "encoding", "size", "datistemplate"})
	for _, n := range names {
		rows.AddRow(n, "postgres", "UTF8", int64(8192), strings.HasPrefix(n, "template"))
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_catalog.pg_database")).WillReturnRows(rows)
}
