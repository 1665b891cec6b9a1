package dump

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/testutil"
)

const helperModeEnv = "DUMP_HELPER_MODE"

// TestHelperProcess stands in for the vendor tools. It is only active when
// re-executed by fakeRunner.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	os.Exit(fakeTool(os.Getenv(helperModeEnv), args[0], args[1:]))
}

func fakeTool(mode, tool string, args []string) int {
	flag := func(name string) string {
		for _, a := range args {
			if v, ok := strings.CutPrefix(a, name+"="); ok {
				return v
			}
		}
		return ""
	}
	has := func(name string) bool {
		for _, a := range args {
			if a == name {
				return true
			}
		}
		return false
	}

	if tool == toolPgRestore && has("--list") {
		fmt.Println(";\n; Archive created at 2026-01-01\n;")
		fmt.Println("215; 1259 16386 TABLE public users postgres")
		fmt.Println("216; 1259 16390 TABLE public orders postgres")
		fmt.Println("3340; 0 16386 TABLE DATA public users postgres")
		fmt.Println("3341; 0 16390 TABLE DATA public orders postgres")
		return 0
	}

	switch mode {
	case "fail":
		fmt.Fprintf(os.Stderr, "%s: error: connection to server at \"localhost\" failed: FATAL:  password authentication failed for user \"admin\"\n", tool)
		return 1
	case "ignored":
		fmt.Fprintln(os.Stderr, "pg_restore: creating TABLE \"public.users\"")
		fmt.Fprintln(os.Stderr, "pg_restore: error: could not execute query: ERROR:  relation \"users\" already exists")
		fmt.Fprintln(os.Stderr, "pg_restore: warning: errors ignored on restore: 1")
		return 1
	case "psql-errors":
		fmt.Fprintln(os.Stderr, "psql:/tmp/app.sql:3: ERROR:  relation \"users\" already exists")
		return 0
	case "slow":
		time.Sleep(10 * time.Second)
		return 0
	case "load-fail":
		if tool == toolPsql || tool == toolMysql {
			fmt.Fprintf(os.Stderr, "%s: error: database \"copy\" does not exist\n", tool)
			return 2
		}
	}

	switch tool {
	case toolPgDump, toolMysqldump:
		for _, table := range []string{"public.users", "public.orders"} {
			if tool == toolPgDump {
				fmt.Fprintf(os.Stderr, "pg_dump: dumping contents of table \"%s\"\n", table)
			} else {
				fmt.Fprintf(os.Stderr, "-- Retrieving table structure for table %s...\n", table)
			}
		}
		out := flag("--file")
		if out == "" {
			out = flag("--result-file")
		}
		if out != "" {
			return writeOrFail(out, "PGDMP fake archive")
		}
		fmt.Println("CREATE TABLE users (id int);")
		return 0
	case toolPgRestore:
		fmt.Fprintln(os.Stderr, "pg_restore: connecting to database for restore")
		fmt.Fprintln(os.Stderr, "pg_restore: creating TABLE \"public.users\"")
		fmt.Fprintln(os.Stderr, "pg_restore: processing data for table \"public.users\"")
		return 0
	case toolPsql, toolMysql:
		in, _ := io.ReadAll(os.Stdin)
		if has("--dbname=target") || has("target") {
			if !bytes.Contains(in, []byte("CREATE TABLE")) {
				fmt.Fprintf(os.Stderr, "%s: error: empty input\n", tool)
				return 3
			}
		}
		return 0
	}
	return 0
}

func writeOrFail(path, content string) int {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

type invocation struct {
	tool string
	args []string
	cmd  *exec.Cmd
}

type recorder struct {
	mu    sync.Mutex
	calls []invocation
}

func (r *recorder) find(tool string) (invocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.tool == tool {
			return c, true
		}
	}
	return invocation{}, false
}

func fakeRunner(t *testing.T, mode string, missing ...string) (*Runner, *recorder) {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv(helperModeEnv, mode)

	rec := &recorder{}
	r := NewRunner(Tools{}, testutil.NewTestLogger(t))
	r.lookPath = func(name string) (string, error) {
		for _, m := range missing {
			if m == name {
				return "", exec.ErrNotFound
			}
		}
		return name, nil
	}
	r.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		rec.mu.Lock()
		rec.calls = append(rec.calls, invocation{tool: name, args: args, cmd: cmd})
		rec.mu.Unlock()
		return cmd
	}
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return r, rec
}

func collect() (*[]Progress, ProgressFunc) {
	var mu sync.Mutex
	var events []Progress
	return &events, func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	}
}

var pgCreds = db.Credentials{Host: "db", Port: 5433, User: "admin", Password: "s3cret"}

func TestBackupPostgres(t *testing.T) {
	r, rec := fakeRunner(t, "ok")
	dir := t.TempDir()
	events, progress := collect()

	res, err := r.Backup(context.Background(), pgCreds, BackupOptions{
		Database:    "app",
		Format:      FormatCustom,
		Compression: 5,
		Dir:         dir,
		Tables:      2,
	}, progress)
	require.NoError(t, err)

	want := filepath.Join(dir, "app_1700000000000.backup")
	assert.Equal(t, want, res.Path)
	assert.FileExists(t, want)

	call, ok := rec.find(toolPgDump)
	require.True(t, ok)
	assert.Equal(t, []string{
		"--host=db", "--port=5433", "--username=admin", "--no-password",
		"--verbose", "--format=c", "--compress=5", "--file=" + want, "app",
	}, call.args)
	assert.Contains(t, call.cmd.Env, "PGPASSWORD=s3cret")
	for _, a := range call.args {
		assert.NotContains(t, a, "s3cret")
	}

	require.NotEmpty(t, *events)
	assert.Equal(t, PhaseStarting, (*events)[0].Phase)
	var percents []int
	for _, e := range *events {
		if e.Phase == PhaseRunning {
			percents = append(percents, e.Percent)
		}
	}
	assert.Equal(t, []int{50, 99}, percents)
	last := (*events)[len(*events)-1]
	assert.Equal(t, Progress{Percent: 100, Message: "Backup of app completed", Phase: PhaseDone}, last)
}

func TestBackupDropsCompression(t *testing.T) {
	for _, tt := range []struct {
		format Format
		file   string
	}{
		{FormatTar, "out.tar"},
		{FormatPlain, "app.sql"},
	} {
		t.Run(string(tt.format), func(t *testing.T) {
			r, rec := fakeRunner(t, "ok")
			path := filepath.Join(t.TempDir(), tt.file)

			res, err := r.Backup(context.Background(), pgCreds, BackupOptions{
				Database:    "app",
				Format:      tt.format,
				Compression: 6,
				Path:        path,
			}, nil)
			require.NoError(t, err)
			require.Len(t, res.Warnings, 1)
			assert.Contains(t, res.Warnings[0], "does not support compression")

			call, ok := rec.find(toolPgDump)
			require.True(t, ok)
			for _, a := range call.args {
				assert.NotContains(t, a, "--compress")
			}
		})
	}
}

func TestBackupPlainWithoutCompressionHasNoWarning(t *testing.T) {
	r, _ := fakeRunner(t, "ok")
	res, err := r.Backup(context.Background(), pgCreds, BackupOptions{
		Database: "app",
		Format:   FormatPlain,
		Path:     filepath.Join(t.TempDir(), "app.sql"),
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
}

func TestBackupFailure(t *testing.T) {
	r, _ := fakeRunner(t, "fail")
	events, progress := collect()

	_, err := r.Backup(context.Background(), pgCreds, BackupOptions{Database: "app", Dir: t.TempDir()}, progress)
	require.Error(t, err)

	var terr *ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, toolPgDump, terr.Tool)
	assert.Contains(t, terr.Message, "password authentication failed")

	last := (*events)[len(*events)-1]
	assert.Equal(t, PhaseFailed, last.Phase)
	assert.Less(t, last.Percent, 100)
}

func TestBackupMissingTool(t *testing.T) {
	r, _ := fakeRunner(t, "ok", toolPgDump)

	_, err := r.Backup(context.Background(), pgCreds, BackupOptions{Database: "app", Dir: t.TempDir()}, nil)
	require.ErrorIs(t, err, ErrToolNotFound)
	assert.Contains(t, err.Error(), "may not be installed or in your PATH")
}

func TestBackupMysql(t *testing.T) {
	r, rec := fakeRunner(t, "ok")
	creds := db.Credentials{Driver: "mysql", User: "root", Password: "pw"}

	_, err := r.Backup(context.Background(), creds, BackupOptions{Database: "shop", Format: FormatCustom, Dir: t.TempDir()}, nil)
	require.ErrorIs(t, err, db.ErrUnsupported)

	res, err := r.Backup(context.Background(), creds, BackupOptions{Database: "shop", Format: FormatPlain, Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Path, "shop_1700000000000.sql"))

	call, ok := rec.find(toolMysqldump)
	require.True(t, ok)
	assert.Equal(t, "--host=localhost", call.args[0])
	assert.Equal(t, "--port=3306", call.args[1])
	assert.Contains(t, call.args, "--user=root")
	assert.Contains(t, call.cmd.Env, "MYSQL_PWD=pw")
}

func writeArchive(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.backup")
	require.NoError(t, os.WriteFile(path, []byte("PGDMP\x01\x0e\x00"), 0o644))
	return path
}

func TestRestoreArchive(t *testing.T) {
	r, rec := fakeRunner(t, "ok")
	file := writeArchive(t)
	events, progress := collect()

	res, err := r.Restore(context.Background(), pgCreds, RestoreOptions{
		Database:          "app",
		File:              file,
		Clean:             true,
		SingleTransaction: true,
	}, progress)
	require.NoError(t, err)
	assert.Equal(t, FormatCustom, res.Format)
	assert.Empty(t, res.Warnings)

	var restore invocation
	for _, c := range rec.calls {
		if c.tool == toolPgRestore && !strings.Contains(strings.Join(c.args, " "), "--list") {
			restore = c
		}
	}
	assert.Equal(t, []string{
		"--host=db", "--port=5433", "--username=admin", "--no-password",
		"--verbose", "--clean", "--if-exists", "--single-transaction",
		"--dbname=app", file,
	}, restore.args)

	// four TOC entries, three output lines
	var percents []int
	for _, e := range *events {
		if e.Phase == PhaseRunning {
			percents = append(percents, e.Percent)
		}
	}
	assert.Equal(t, []int{25, 50, 75}, percents)
	assert.Equal(t, `Database "app" restored successfully`, (*events)[len(*events)-1].Message)
}

func TestRestoreIgnoredErrorsIsSuccessWithWarnings(t *testing.T) {
	r, _ := fakeRunner(t, "ignored")
	events, progress := collect()

	res, err := r.Restore(context.Background(), pgCreds, RestoreOptions{Database: "app", File: writeArchive(t)}, progress)
	require.NoError(t, err)
	assert.Equal(t, 1, res.IgnoredErrors)
	assert.Equal(t, 2, res.WarningCount())
	assert.Empty(t, res.Errors)

	last := (*events)[len(*events)-1]
	assert.Equal(t, PhaseDone, last.Phase)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, `Database "app" restored with 2 warning(s)`, last.Message)
}

func TestRestoreFailure(t *testing.T) {
	r, _ := fakeRunner(t, "fail")

	res, err := r.Restore(context.Background(), pgCreds, RestoreOptions{Database: "app", File: writeArchive(t)}, nil)
	var terr *ToolError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, toolPgRestore, terr.Tool)
	assert.Len(t, res.Errors, 1)
}

func TestRestorePlainUsesPsql(t *testing.T) {
	r, rec := fakeRunner(t, "psql-errors")
	file := filepath.Join(t.TempDir(), "app.sql")
	require.NoError(t, os.WriteFile(file, []byte("CREATE TABLE users (id int);\n"), 0o644))

	res, err := r.Restore(context.Background(), pgCreds, RestoreOptions{Database: "app", File: file, SingleTransaction: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, FormatPlain, res.Format)
	assert.Equal(t, 1, res.WarningCount())

	call, ok := rec.find(toolPsql)
	require.True(t, ok)
	assert.Equal(t, []string{
		"--host=db", "--port=5433", "--username=admin", "--no-password",
		"--dbname=app", "--file=" + file, "--set", "ON_ERROR_STOP=0", "--single-transaction",
	}, call.args)
	_, listed := rec.find(toolPgRestore)
	assert.False(t, listed)
}

func TestRestoreGzippedPlainPipesIntoPsql(t *testing.T) {
	r, rec := fakeRunner(t, "ok")
	file := filepath.Join(t.TempDir(), "app.sql")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("CREATE TABLE users (id int);\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(file, buf.Bytes(), 0o644))

	res, err := r.Restore(context.Background(), pgCreds, RestoreOptions{Database: "target", File: file}, nil)
	require.NoError(t, err)
	assert.Equal(t, FormatPlain, res.Format)

	call, ok := rec.find(toolPsql)
	require.True(t, ok)
	assert.Equal(t, []string{
		"--host=db", "--port=5433", "--username=admin", "--no-password",
		"--dbname=target", "--set", "ON_ERROR_STOP=0",
	}, call.args)
}

func TestRestoreMissingFile(t *testing.T) {
	r, _ := fakeRunner(t, "ok")
	_, err := r.Restore(context.Background(), pgCreds, RestoreOptions{Database: "app", File: "/nonexistent/app.backup"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRestoreCancelled(t *testing.T) {
	r, _ := fakeRunner(t, "slow")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := r.Restore(ctx, pgCreds, RestoreOptions{Database: "app", File: writeArchive(t)}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCopy(t *testing.T) {
	r, rec := fakeRunner(t, "ok")

	err := r.Copy(context.Background(), pgCreds, "app", "target", true)
	require.NoError(t, err)

	dump, ok := rec.find(toolPgDump)
	require.True(t, ok)
	assert.Contains(t, dump.args, "--schema-only")
	assert.Equal(t, "app", dump.args[len(dump.args)-1])

	load, ok := rec.find(toolPsql)
	require.True(t, ok)
	assert.Contains(t, load.args, "--dbname=target")
	assert.Contains(t, load.args, "ON_ERROR_STOP=1")
}

func TestCopyLoadFailure(t *testing.T) {
	r, _ := fakeRunner(t, "load-fail")

	err := r.Copy(context.Background(), pgCreds, "app", "copy", false)
	require.Error(t, err)
	var terr *ToolError
	assert.ErrorAs(t, err, &terr)
}

func TestCopyUnsupportedDriver(t *testing.T) {
	r, _ := fakeRunner(t, "ok")
	err := r.Copy(context.Background(), db.Credentials{Driver: "mssql"}, "a", "b", false)
	assert.ErrorIs(t, err, db.ErrUnsupported)
}
