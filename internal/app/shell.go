package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/bgunnarsson/binadmin/internal/admin"
	"github.com/bgunnarsson/binadmin/internal/print"
)

// Shell is the interactive SQL prompt behind `binadmin query DB`.
type Shell struct {
	svc      *admin.Service
	database string
	opts     print.Options
	out      io.Writer
	errOut   io.Writer

	buf strings.Builder
}

func NewShell(svc *admin.Service, database string, opts print.Options, out, errOut io.Writer) *Shell {
	return &Shell{svc: svc, database: database, opts: opts, out: out, errOut: errOut}
}

func (s *Shell) Database() string { return s.database }

// Prompt shows the current database, or a continuation marker while a
// statement is still open.
func (s *Shell) Prompt() string {
	if s.buf.Len() > 0 {
		return strings.Repeat(" ", max(len(s.database)-1, 0)) + "...> "
	}
	return s.database + "=> "
}

// Reset drops a half-typed statement.
func (s *Shell) Reset() { s.buf.Reset() }

// Feed handles one input line. It reports whether the shell should exit.
func (s *Shell) Feed(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if s.buf.Len() == 0 && strings.HasPrefix(line, ".") {
		return s.dotCommand(ctx, line)
	}

	// Accumulate multi-line SQL until semicolon
	s.buf.WriteString(line)
	if !strings.HasSuffix(line, ";") {
		s.buf.WriteString("\n")
		return false
	}

	query := strings.TrimSuffix(s.buf.String(), ";")
	s.buf.Reset()

	rows, err := s.svc.Query(ctx, s.database, query)
	if err != nil {
		s.fail(err)
		return false
	}
	if err := print.RenderRows(s.out, rows, s.opts); err != nil {
		s.fail(err)
	}
	fmt.Fprintln(s.out)
	return false
}

func (s *Shell) fail(err error) {
	fmt.Fprintf(s.errOut, "Error: %v\n", err)
}

func (s *Shell) dotCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", `\q`:
		return true

	case ".help":
		printShellHelp(s.out)

	case ".tables":
		tables, err := s.svc.Tables(ctx, s.database)
		if err != nil {
			s.fail(err)
			return false
		}
		if err := print.RenderTables(s.out, tables, s.opts); err != nil {
			s.fail(err)
		}

	case ".columns", ".schema":
		if len(parts) < 2 {
			fmt.Fprintln(s.errOut, "Usage: .columns <table>")
			return false
		}
		cols, err := s.svc.Columns(ctx, s.database, parts[1])
		if err != nil {
			s.fail(err)
			return false
		}
		if err := print.RenderColumns(s.out, cols, s.opts); err != nil {
			s.fail(err)
		}

	case ".databases":
		dbs, err := s.svc.Databases(ctx, false)
		if err != nil {
			s.fail(err)
			return false
		}
		if err := print.RenderDatabases(s.out, dbs, s.opts); err != nil {
			s.fail(err)
		}

	case ".use":
		if len(parts) < 2 {
			fmt.Fprintln(s.errOut, "Usage: .use <database>")
			return false
		}
		s.database = parts[1]
		fmt.Fprintf(s.out, "Now using database %q\n", s.database)

	default:
		fmt.Fprintf(s.errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return false
}

func printShellHelp(w io.Writer) {
	help := `
Commands:
  .help              Show this help message
  .tables            List tables in the current database
  .columns <table>   Show columns of a table
  .databases         List databases on the server
  .use <database>    Switch to another database
  .quit / .exit      Exit the shell

SQL statements end with a semicolon (;) and may span several lines.
`
	fmt.Fprintln(w, help)
}

func (s *Shell) completer(ctx context.Context) *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".databases"),
		readline.PcItem(".use"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	}

	// autocomplete is best effort
	tables, _ := s.svc.Tables(ctx, s.database)
	cols := make([]readline.PrefixCompleterInterface, 0, len(tables))
	for _, t := range tables {
		items = append(items, readline.PcItem(t))
		cols = append(cols, readline.PcItem(t))
	}
	items = append(items, readline.PcItem(".columns", cols...))
	return readline.NewPrefixCompleter(items...)
}

// Run reads lines until .quit or EOF. historyFile may be empty.
func (s *Shell) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.Prompt(),
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(ctx),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          s.out,
		Stderr:          s.errOut,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize shell: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Fprintf(s.out, "Connected to %s. Type .help for commands, .quit to exit\n\n", s.database)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			s.Reset()
			rl.SetPrompt(s.Prompt())
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if s.Feed(ctx, line) {
			return nil
		}
		rl.SetPrompt(s.Prompt())
	}
}
