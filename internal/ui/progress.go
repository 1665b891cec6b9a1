package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bgunnarsson/binadmin/internal/dump"
)

const maxMessageWidth = 72

type progressMsg dump.Progress

type doneMsg struct{ err error }

type progressModel struct {
	title      string
	bar        progress.Model
	last       dump.Progress
	cancel     context.CancelFunc
	cancelling bool
	err        error
}

func newProgressModel(title string, cancel context.CancelFunc) progressModel {
	return progressModel{
		title:  title,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		cancel: cancel,
	}
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			if !m.cancelling {
				m.cancelling = true
				m.cancel()
			}
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-10, 10), 60)
	case progressMsg:
		m.last = dump.Progress(msg)
	case doneMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(float64(m.last.Percent) / 100))
	b.WriteString("\n")
	switch {
	case m.cancelling:
		b.WriteString(warnStyle.Render("cancelling..."))
	default:
		b.WriteString(truncate(m.last.Message, maxMessageWidth))
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// RunWithProgress runs fn while drawing a progress bar on out. Pressing
// ctrl+c cancels fn's context; the bar stays up until fn returns.
func RunWithProgress(ctx context.Context, out io.Writer, title string, fn func(context.Context, dump.ProgressFunc) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(title, cancel), tea.WithOutput(out))

	go func() {
		err := fn(ctx, func(pr dump.Progress) { p.Send(progressMsg(pr)) })
		p.Send(doneMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		return fmt.Errorf("progress display failed: %w", err)
	}
	return final.(progressModel).err
}

// LogProgress reports progress as structured log lines, for when output is
// not a terminal. Repeated percentages are skipped.
func LogProgress(logger *slog.Logger) dump.ProgressFunc {
	last := -1
	return func(p dump.Progress) {
		if p.Phase == dump.PhaseRunning && p.Percent == last {
			return
		}
		last = p.Percent
		logger.Info("progress",
			slog.Int("percent", p.Percent),
			slog.String("phase", string(p.Phase)),
			slog.String("message", p.Message))
	}
}
