package ui

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/bgunnarsson/binadmin/internal/dump"
)

func TestProgressModel(t *testing.T) {
	cancelled := false
	m := newProgressModel("Backing up app", func() { cancelled = true })

	next, cmd := m.Update(progressMsg{Percent: 40, Message: "pg_dump: dumping contents of table users", Phase: dump.PhaseRunning})
	assert.Nil(t, cmd)
	m = next.(progressModel)
	view := m.View()
	assert.Contains(t, view, "Backing up app")
	assert.Contains(t, view, "dumping contents of table users")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(progressModel)
	assert.True(t, cancelled)
	assert.Contains(t, m.View(), "cancelling")

	boom := errors.New("boom")
	next, cmd = m.Update(doneMsg{err: boom})
	assert.NotNil(t, cmd, "done quits the program")
	assert.Equal(t, boom, next.(progressModel).err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("é", 20)
	assert.Equal(t, strings.Repeat("é", 7)+"...", truncate(long, 10))
}

func TestLogProgress(t *testing.T) {
	var buf bytes.Buffer
	fn := LogProgress(slog.New(slog.NewTextHandler(&buf, nil)))

	fn(dump.Progress{Percent: 0, Phase: dump.PhaseStarting, Message: "start"})
	fn(dump.Progress{Percent: 9, Phase: dump.PhaseRunning, Message: "a"})
	fn(dump.Progress{Percent: 9, Phase: dump.PhaseRunning, Message: "b"})
	fn(dump.Progress{Percent: 100, Phase: dump.PhaseDone, Message: "done"})

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "msg=progress"))
	assert.Contains(t, out, "percent=100")
	assert.NotContains(t, out, "message=b")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	PrintResult(&buf, []Field{{Label: "Database", Value: "app"}}, "Backup completed")
	PrintWarnings(&buf, []string{"pg_restore: warning: errors ignored on restore: 1"})

	out := buf.String()
	assert.Contains(t, out, "Database:")
	assert.Contains(t, out, "app")
	assert.Contains(t, out, "Backup completed")
	assert.Contains(t, out, "errors ignored on restore")
}
