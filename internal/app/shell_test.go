package app

import (
	"bytes"
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/dump"
	"github.com/bgunnarsson/binadmin/internal/print"
	"github.com/bgunnarsson/binadmin/internal/session"
	"github.com/bgunnarsson/binadmin/internal/testutil"
)

func newShell(t *testing.T) (*Shell, sqlmock.Sqlmock, *testutil.MockServer, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	srv := testutil.NewMockServer(t)
	sess := session.New(srv.Open, testutil.NewTestLogger(t))
	_, err := sess.Connect(context.Background(), db.Credentials{User: "admin"})
	require.NoError(t, err)

	svc := admin.New(sess, dump.NewRunner(dump.Tools{}, nil))
	var out, errOut bytes.Buffer
	return NewShell(svc, "postgres", print.Options{}, &out, &errOut), srv.Mock(0), srv, &out, &errOut
}

func TestShellMultiLineQuery(t *testing.T) {
	sh, mock, _, out, errOut := newShell(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id\nFROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	ctx := context.Background()
	assert.Equal(t, "postgres=> ", sh.Prompt())

	assert.False(t, sh.Feed(ctx, "SELECT id"))
	assert.Equal(t, "       ...> ", sh.Prompt())
	assert.False(t, sh.Feed(ctx, "FROM users;"))
	assert.Equal(t, "postgres=> ", sh.Prompt())

	assert.Contains(t, out.String(), "7")
	assert.Contains(t, out.String(), "1 row")
	assert.Empty(t, errOut.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShellQueryError(t *testing.T) {
	sh, mock, _, _, errOut := newShell(t)
	mock.ExpectExec("DROP TABLE nope").WillReturnError(assert.AnError)

	sh.Feed(context.Background(), "DROP TABLE nope;")
	assert.Contains(t, errOut.String(), "Error: ")
}

func TestShellDotCommands(t *testing.T) {
	sh, mock, srv, out, errOut := newShell(t)
	ctx := context.Background()

	testutil.ExpectDatabases(mock, "app", "postgres", "template1")
	assert.False(t, sh.Feed(ctx, ".databases"))
	assert.Contains(t, out.String(), "app")
	assert.NotContains(t, out.String(), "template1")

	assert.False(t, sh.Feed(ctx, ".use app"))
	assert.Equal(t, "app", sh.Database())
	assert.Equal(t, "app=> ", sh.Prompt())

	srv.Setup = func(_ db.Credentials, m sqlmock.Sqlmock) {
		m.ExpectQuery("information_schema.tables").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("public.orders"))
	}
	out.Reset()
	assert.False(t, sh.Feed(ctx, ".tables"))
	assert.Contains(t, out.String(), "public.orders")

	assert.False(t, sh.Feed(ctx, ".columns"))
	assert.Contains(t, errOut.String(), "Usage: .columns")

	assert.False(t, sh.Feed(ctx, ".bogus"))
	assert.Contains(t, errOut.String(), "Unknown command: .bogus")

	out.Reset()
	assert.False(t, sh.Feed(ctx, ".help"))
	assert.Contains(t, out.String(), ".columns <table>")

	assert.True(t, sh.Feed(ctx, ".quit"))
}

func TestShellReset(t *testing.T) {
	sh, _, _, _, _ := newShell(t)
	sh.Feed(context.Background(), "SELECT 1")
	sh.Reset()
	assert.Equal(t, "postgres=> ", sh.Prompt())

	// a dot inside an open statement is SQL, not a command
	sh.Feed(context.Background(), "SELECT")
	assert.False(t, sh.Feed(context.Background(), ".quit"))
}
