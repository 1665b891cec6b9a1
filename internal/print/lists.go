package print

import (
	"io"
	"strconv"
	"time"

	"github.com/bgunnarsson/binadmin/internal/db"
	"github.com/bgunnarsson/binadmin/internal/history"
)

func RenderDatabases(w io.Writer, dbs []db.DatabaseInfo, opts Options) error {
	if opts.Format == FormatJSON {
		return writeJSON(w, dbs)
	}
	cells := make([][]string, len(dbs))
	for i, d := range dbs {
		cells[i] = []string{d.Name, d.Owner, d.Encoding, HumanBytes(d.SizeBytes)}
	}
	return renderGrid(w, []string{"name", "owner", "encoding", "size"}, cells, opts)
}

func RenderTables(w io.Writer, tables []string, opts Options) error {
	if opts.Format == FormatJSON {
		if tables == nil {
			tables = []string{}
		}
		return writeJSON(w, tables)
	}
	cells := make([][]string, len(tables))
	for i, t := range tables {
		cells[i] = []string{t}
	}
	return renderGrid(w, []string{"table"}, cells, opts)
}

func RenderColumns(w io.Writer, cols []db.Column, opts Options) error {
	if opts.Format == FormatJSON {
		return writeJSON(w, cols)
	}
	cells := make([][]string, len(cols))
	for i, c := range cols {
		dflt := ""
		if c.Default != nil {
			dflt = *c.Default
		}
		nullable := "NO"
		if c.Nullable {
			nullable = "YES"
		}
		cells[i] = []string{c.Name, c.Type, nullable, dflt}
	}
	return renderGrid(w, []string{"column", "type", "nullable", "default"}, cells, opts)
}

func RenderQueries(w io.Writer, entries []history.QueryEntry, opts Options) error {
	if opts.Format == FormatJSON {
		return writeJSON(w, entries)
	}
	cells := make([][]string, len(entries))
	for i, e := range entries {
		status := plural(e.Rows, "row")
		if e.Error != "" {
			status = "error: " + e.Error
		}
		cells[i] = []string{
			e.ExecutedAt.Format(time.DateTime),
			e.Database,
			e.SQL,
			e.Duration.Round(time.Millisecond).String(),
			status,
		}
	}
	return renderGrid(w, []string{"executed", "database", "sql", "duration", "result"}, cells, opts)
}

func RenderOperations(w io.Writer, ops []history.Operation, opts Options) error {
	if opts.Format == FormatJSON {
		return writeJSON(w, ops)
	}
	cells := make([][]string, len(ops))
	for i, op := range ops {
		status := op.Status
		if op.Error != "" {
			status += ": " + op.Error
		}
		cells[i] = []string{
			op.StartedAt.Format(time.DateTime),
			op.Kind,
			op.Database,
			op.Detail,
			op.FinishedAt.Sub(op.StartedAt).Round(time.Millisecond).String(),
			status,
		}
	}
	return renderGrid(w, []string{"started", "kind", "database", "detail", "duration", "status"}, cells, opts)
}

// HumanBytes formats a size with binary units.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(n)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
