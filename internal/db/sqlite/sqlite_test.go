package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/binadmin/internal/db"
)

func openTemp(t *testing.T) *SqliteDB {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.Exec(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, nick TEXT DEFAULT 'anon')`)
	require.NoError(t, err)

	n, err := s.Exec(ctx, `INSERT INTO users (email) VALUES (?), (?)`, "a@example.com", "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	tables, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)

	cols, err := s.DescribeTable(ctx, "users")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "id", cols[0].Name)
	assert.False(t, cols[0].Nullable)
	assert.False(t, cols[1].Nullable)
	assert.True(t, cols[2].Nullable)
	require.NotNil(t, cols[2].Default)
	assert.Equal(t, "'anon'", *cols[2].Default)

	rows, err := s.Query(ctx, `SELECT email, nick FROM users ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows.Data, 2)
	assert.Equal(t, "a@example.com", rows.Data[0][0])
	assert.Equal(t, "anon", rows.Data[0][1])
}

func TestListDatabases(t *testing.T) {
	s := openTemp(t)

	dbs, err := s.ListDatabases(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, dbs)
	assert.Equal(t, "main", dbs[0].Name)
}

func TestIdentity(t *testing.T) {
	s := openTemp(t)
	id, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", id.User)
	assert.Equal(t, s.path, id.Database)
}

func TestNoAdmin(t *testing.T) {
	s := openTemp(t)
	_, err := db.AdminOf(s)
	assert.ErrorIs(t, err, db.ErrUnsupported)
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
