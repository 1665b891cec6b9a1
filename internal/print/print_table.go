package print

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/bgunnarsson/binadmin/internal/db"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table", "box":
		return FormatTable, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, markdown, csv or json)", s)
	}
}

type Options struct {
	Format   Format
	MaxWidth int // max width for each column in table output, 0 = 40
}

func (o Options) maxWidth() int {
	if o.MaxWidth <= 0 {
		return 40
	}
	return o.MaxWidth
}

// RenderRows writes a query result followed, for human formats, by a row
// count footer.
func RenderRows(w io.Writer, rows *db.Rows, opts Options) error {
	if opts.Format == FormatJSON {
		return renderRowsJSON(w, rows)
	}

	if !rows.Returning() {
		if opts.Format == FormatCSV {
			return nil
		}
		_, err := fmt.Fprintln(w, Footer(rows))
		return err
	}

	header := make([]string, len(rows.Columns))
	for i, col := range rows.Columns {
		header[i] = col.Name
	}
	cells := make([][]string, len(rows.Data))
	for i, r := range rows.Data {
		cells[i] = make([]string, len(r))
		for j, v := range r {
			cells[i][j] = FormatCell(v)
		}
	}

	if err := renderGrid(w, header, cells, opts); err != nil {
		return err
	}
	if opts.Format == FormatCSV {
		return nil
	}
	_, err := fmt.Fprintln(w, Footer(rows))
	return err
}

// Footer summarises a result the way the query pane does.
func Footer(rows *db.Rows) string {
	if !rows.Returning() {
		return plural(rows.RowsAffected, "row") + " affected"
	}
	if len(rows.Data) == 0 {
		return "Query executed successfully. No rows returned."
	}
	return plural(int64(len(rows.Data)), "row")
}

func plural(n int64, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.FormatInt(n, 10) + " " + noun + "s"
}

// renderGrid draws pre-formatted cells in any non-JSON format.
func renderGrid(w io.Writer, header []string, cells [][]string, opts Options) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault

	hr := make(table.Row, len(header))
	for i, h := range header {
		hr[i] = h
	}
	t.AppendHeader(hr)

	width := 0
	if opts.Format == FormatTable || opts.Format == "" {
		width = opts.maxWidth()
	}
	for _, r := range cells {
		row := make(table.Row, len(r))
		for i, c := range r {
			if width > 0 {
				c = truncate(c, width)
			}
			row[i] = c
		}
		t.AppendRow(row)
	}

	switch opts.Format {
	case FormatMarkdown:
		t.RenderMarkdown()
	case FormatCSV:
		t.RenderCSV()
	default:
		t.Render()
	}
	return nil
}

func renderRowsJSON(w io.Writer, rows *db.Rows) error {
	if !rows.Returning() {
		return writeJSON(w, map[string]int64{"rowsAffected": rows.RowsAffected})
	}

	out := make([]map[string]any, 0, len(rows.Data))
	for _, r := range rows.Data {
		m := make(map[string]any, len(rows.Columns))
		for i, col := range rows.Columns {
			if i < len(r) {
				m[col.Name] = jsonValue(r[i])
			}
		}
		out = append(out, m)
	}
	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonValue(v any) any {
	if b, ok := v.([]byte); ok {
		return FormatCell(b)
	}
	return v
}

// FormatCell renders one value for display.
func FormatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		// heuristic: treat as string if printable, else show len
		s := string(t)
		if isPrintable(s) {
			return s
		}
		return fmt.Sprintf("<blob %d bytes>", len(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r == 0xFFFD || (r < 32 && r != '\n' && r != '\t' && r != '\r') {
			return false
		}
	}
	return true
}

func truncate(s string, w int) string {
	r := []rune(s)
	if len(r) <= w {
		return s
	}
	if w <= 3 {
		return string(r[:w])
	}
	return string(r[:w-3]) + "..."
}
