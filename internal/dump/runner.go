// Package dump drives the vendor backup and restore tools.
package dump

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bgunnarsson/binadmin/internal/db"
)

type BackupOptions struct {
	Database    string
	Format      Format
	Compression int

	// Path is the output file or directory. When empty one is generated in
	// Dir as <database>_<unix millis><ext>.
	Path string
	Dir  string

	// Tables is the number of tables being dumped, used to compute progress.
	// Zero falls back to an estimate.
	Tables int
}

type RestoreOptions struct {
	Database          string
	File              string
	Clean             bool
	SingleTransaction bool
}

type Result struct {
	Path          string        `json:"path,omitempty"`
	Format        Format        `json:"format,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	Errors        []string      `json:"errors,omitempty"`
	IgnoredErrors int           `json:"ignoredErrors,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// WarningCount is what a finished run reports as "N warning(s)".
func (r *Result) WarningCount() int {
	return len(r.Warnings)
}

// ToolError is a failed tool run. Message is the last error line the
// tool printed.
type ToolError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s failed: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

type Runner struct {
	tools  Tools
	logger *slog.Logger

	lookPath func(string) (string, error)
	command  func(ctx context.Context, name string, args ...string) *exec.Cmd
	now      func() time.Time
}

func NewRunner(tools Tools, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		tools:    tools,
		logger:   logger,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
		now:      time.Now,
	}
}

// Backup dumps one database. Postgres supports every Format; MySQL only
// plain.
func (r *Runner) Backup(ctx context.Context, creds db.Credentials, opts BackupOptions, progress ProgressFunc) (*Result, error) {
	if opts.Format == "" {
		opts.Format = FormatCustom
	}
	if opts.Path == "" {
		dir := opts.Dir
		if dir == "" {
			dir = "."
		}
		name := fmt.Sprintf("%s_%d%s", opts.Database, r.now().UnixMilli(), opts.Format.Extension())
		opts.Path = filepath.Join(dir, name)
	}

	var (
		tool string
		args []string
		res  = &Result{Path: opts.Path, Format: opts.Format}
	)

	switch creds.NormalizedDriver() {
	case db.DriverPostgres:
		tool = toolPgDump
		args = append(pgConnArgs(creds), "--verbose", "--format="+opts.Format.flag())
		if opts.Format.Compressed() {
			args = append(args, "--compress="+strconv.Itoa(opts.Compression))
		} else if opts.Compression > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s format does not support compression; ignoring compression level", opts.Format))
		}
		args = append(args, "--file="+opts.Path, opts.Database)
	case db.DriverMysql:
		if opts.Format != FormatPlain {
			return nil, fmt.Errorf("%s format backups for mysql: %w", opts.Format, db.ErrUnsupported)
		}
		tool = toolMysqldump
		args = append(mysqlConnArgs(creds), "--verbose", "--result-file="+opts.Path, opts.Database)
	default:
		return nil, fmt.Errorf("backup for %s: %w", creds.NormalizedDriver(), db.ErrUnsupported)
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	t := newTracker(progress, opts.Tables, dumpsTable)
	t.start(fmt.Sprintf("Backing up %s to %s", opts.Database, opts.Path))

	if err := r.run(ctx, creds, tool, args, nil, t, res); err != nil {
		return res, err
	}

	t.finish(fmt.Sprintf("Backup of %s completed", opts.Database))
	return res, nil
}

func dumpsTable(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "dumping contents of table") || strings.Contains(l, "retrieving table structure")
}

// Restore loads a backup into an existing database. The format is detected
// from the file itself.
func (r *Runner) Restore(ctx context.Context, creds db.Credentials, opts RestoreOptions, progress ProgressFunc) (*Result, error) {
	format, err := Detect(opts.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	res := &Result{Path: opts.File, Format: format}

	var (
		tool  string
		args  []string
		stdin io.Reader
		total int
	)

	switch creds.NormalizedDriver() {
	case db.DriverPostgres:
		if format.Archive() {
			tool = toolPgRestore
			total = r.countEntries(ctx, opts.File)
			args = append(pgConnArgs(creds), "--verbose")
			if opts.Clean {
				args = append(args, "--clean", "--if-exists")
			}
			if opts.SingleTransaction {
				args = append(args, "--single-transaction")
			}
			args = append(args, "--dbname="+opts.Database, opts.File)
		} else {
			tool = toolPsql
			zipped, err := isGzip(opts.File)
			if err != nil {
				return nil, fmt.Errorf("failed to read backup file: %w", err)
			}
			args = append(pgConnArgs(creds), "--dbname="+opts.Database)
			if zipped {
				f, err := os.Open(opts.File)
				if err != nil {
					return nil, fmt.Errorf("failed to read backup file: %w", err)
				}
				defer f.Close()
				zr, err := gzip.NewReader(f)
				if err != nil {
					return nil, fmt.Errorf("failed to read backup file: %w", err)
				}
				defer zr.Close()
				stdin = zr
			} else {
				args = append(args, "--file="+opts.File)
			}
			args = append(args, "--set", "ON_ERROR_STOP=0")
			if opts.SingleTransaction {
				args = append(args, "--single-transaction")
			}
		}
	case db.DriverMysql:
		if format != FormatPlain {
			return nil, fmt.Errorf("%s format restores for mysql: %w", format, db.ErrUnsupported)
		}
		f, err := os.Open(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read backup file: %w", err)
		}
		defer f.Close()
		tool = toolMysql
		args = append(mysqlConnArgs(creds), "--force", opts.Database)
		stdin = f
	default:
		return nil, fmt.Errorf("restore for %s: %w", creds.NormalizedDriver(), db.ErrUnsupported)
	}

	t := newTracker(progress, total, nil)
	t.start(fmt.Sprintf("Restoring %s from %s", opts.Database, opts.File))

	if err := r.run(ctx, creds, tool, args, stdin, t, res); err != nil {
		return res, err
	}

	msg := fmt.Sprintf("Database %q restored successfully", opts.Database)
	if n := res.WarningCount(); n > 0 {
		msg = fmt.Sprintf("Database %q restored with %d warning(s)", opts.Database, n)
	}
	t.finish(msg)
	return res, nil
}

// countEntries returns the number of TOC entries in an archive, or 0 when
// pg_restore cannot list it.
func (r *Runner) countEntries(ctx context.Context, file string) int {
	path, err := r.resolve(toolPgRestore)
	if err != nil {
		return 0
	}
	out, err := r.command(ctx, path, "--list", file).Output()
	if err != nil {
		r.logger.Debug("could not list archive", slog.String("file", file), slog.String("error", err.Error()))
		return 0
	}

	n := 0
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, ";") {
			n++
		}
	}
	return n
}

// run executes one tool, feeding its stderr through the tracker and the
// classifier, and settles the outcome into res.
func (r *Runner) run(ctx context.Context, creds db.Credentials, tool string, args []string, stdin io.Reader, t *tracker, res *Result) error {
	path, err := r.resolve(tool)
	if err != nil {
		t.fail(err.Error())
		return err
	}

	cmd := r.command(ctx, path, args...)
	cmd.Env = toolEnv(creds)
	cmd.Stdin = stdin

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	r.logger.Info("running tool", slog.String("tool", tool), slog.Any("args", args))
	started := r.now()

	if err := cmd.Start(); err != nil {
		t.fail(err.Error())
		return &ToolError{Tool: tool, Err: err}
	}

	var c classifier
	scan := bufio.NewScanner(stderr)
	scan.Buffer(make([]byte, 64*1024), 1024*1024)
	for scan.Scan() {
		line := scan.Text()
		r.logger.Debug(tool, slog.String("line", line))
		c.line(line)
		t.line(line)
	}

	waitErr := cmd.Wait()
	res.Duration = r.now().Sub(started)
	res.Warnings = append(res.Warnings, c.warnings...)
	res.IgnoredErrors = c.ignored

	if ctx.Err() != nil {
		t.fail("cancelled")
		return ctx.Err()
	}

	if waitErr != nil && !c.tolerated() {
		res.Errors = append(res.Errors, c.errors...)
		terr := &ToolError{Tool: tool, Message: c.lastError, Err: waitErr}
		t.fail(terr.Error())
		r.logger.Error("tool failed", slog.String("tool", tool), slog.String("error", terr.Error()))
		return terr
	}

	// The run completed; errors the tool skipped past are reported as warnings.
	res.Warnings = append(res.Warnings, c.errors...)
	r.logger.Info("tool finished",
		slog.String("tool", tool),
		slog.Duration("duration", res.Duration),
		slog.Int("warnings", len(res.Warnings)))
	return nil
}

// SupportsCopy reports whether Copy can pipe databases for the driver.
func SupportsCopy(driver string) bool {
	switch driver {
	case db.DriverPostgres, db.DriverMysql:
		return true
	default:
		return false
	}
}

// Copy streams source into the existing target database through a dump
// piped straight into the client tool.
func (r *Runner) Copy(ctx context.Context, creds db.Credentials, source, target string, schemaOnly bool) error {
	var (
		dumpTool, loadTool string
		dumpArgs, loadArgs []string
	)

	switch creds.NormalizedDriver() {
	case db.DriverPostgres:
		dumpTool, loadTool = toolPgDump, toolPsql
		dumpArgs = pgConnArgs(creds)
		if schemaOnly {
			dumpArgs = append(dumpArgs, "--schema-only")
		}
		dumpArgs = append(dumpArgs, source)
		loadArgs = append(pgConnArgs(creds), "--quiet", "--set", "ON_ERROR_STOP=1", "--dbname="+target)
	case db.DriverMysql:
		dumpTool, loadTool = toolMysqldump, toolMysql
		dumpArgs = mysqlConnArgs(creds)
		if schemaOnly {
			dumpArgs = append(dumpArgs, "--no-data")
		}
		dumpArgs = append(dumpArgs, source)
		loadArgs = append(mysqlConnArgs(creds), target)
	default:
		return fmt.Errorf("copy for %s: %w", creds.NormalizedDriver(), db.ErrUnsupported)
	}

	dumpPath, err := r.resolve(dumpTool)
	if err != nil {
		return err
	}
	loadPath, err := r.resolve(loadTool)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	pr, pw := io.Pipe()

	dump := r.command(gctx, dumpPath, dumpArgs...)
	dump.Env = toolEnv(creds)
	dump.Stdout = pw
	dumpErr := &lastErrorWriter{}
	dump.Stderr = dumpErr

	load := r.command(gctx, loadPath, loadArgs...)
	load.Env = toolEnv(creds)
	load.Stdin = pr
	loadErr := &lastErrorWriter{}
	load.Stderr = loadErr

	r.logger.Info("copying database",
		slog.String("source", source),
		slog.String("target", target),
		slog.Bool("schema_only", schemaOnly))

	g.Go(func() error {
		err := dump.Run()
		_ = pw.CloseWithError(err)
		if err != nil {
			return &ToolError{Tool: dumpTool, Message: dumpErr.last(), Err: err}
		}
		return nil
	})
	g.Go(func() error {
		err := load.Run()
		_ = pr.CloseWithError(err)
		if err != nil {
			return &ToolError{Tool: loadTool, Message: loadErr.last(), Err: err}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// lastErrorWriter collects stderr and remembers the last error line.
type lastErrorWriter struct {
	mu  sync.Mutex
	buf strings.Builder
	c   classifier
}

func (w *lastErrorWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	s := w.buf.String()
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		w.c.line(s[:i])
		s = s[i+1:]
	}
	w.buf.Reset()
	w.buf.WriteString(s)
	return len(p), nil
}

func (w *lastErrorWriter) last() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if rest := w.buf.String(); rest != "" {
		w.c.line(rest)
		w.buf.Reset()
	}
	return w.c.lastError
}

func pgConnArgs(c db.Credentials) []string {
	args := []string{"--host=" + c.HostOrDefault(), "--port=" + strconv.Itoa(c.PortOrDefault())}
	if c.User != "" {
		args = append(args, "--username="+c.User)
	}
	return append(args, "--no-password")
}

func mysqlConnArgs(c db.Credentials) []string {
	args := []string{"--host=" + c.HostOrDefault(), "--port=" + strconv.Itoa(c.PortOrDefault())}
	if c.User != "" {
		args = append(args, "--user="+c.User)
	}
	return args
}

// toolEnv passes secrets through the environment, never argv.
func toolEnv(c db.Credentials) []string {
	env := os.Environ()
	switch c.NormalizedDriver() {
	case db.DriverPostgres:
		if c.Password != "" {
			env = append(env, "PGPASSWORD="+c.Password)
		}
		if c.SSLMode != "" {
			env = append(env, "PGSSLMODE="+c.SSLMode)
		}
	case db.DriverMysql:
		if c.Password != "" {
			env = append(env, "MYSQL_PWD="+c.Password)
		}
	}
	return env
}
