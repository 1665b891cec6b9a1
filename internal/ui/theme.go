// Package ui holds the interactive terminal pieces: the login form, the
// progress bar for backup and restore, and styled result output.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#27ca3f"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9ca24"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#bababa"))
)

// Theme is the huh theme shared by every form.
func Theme() *huh.Theme {
	theme := huh.ThemeBase16()
	theme.FieldSeparator = lipgloss.NewStyle().SetString("\n")
	theme.Form.Base = theme.Form.Base.MarginTop(1)
	theme.Focused.Title = theme.Focused.Title.Foreground(lipgloss.Color("#f9ca24"))
	theme.Blurred.Title = theme.Blurred.Title.Foreground(lipgloss.Color("#bababa"))
	return theme
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type Field struct {
	Label string
	Value string
}

// PrintResult prints label/value pairs with check marks and an optional
// closing message.
func PrintResult(w io.Writer, fields []Field, msg string) {
	check := successStyle.Render("✓")
	for _, f := range fields {
		fmt.Fprintf(w, "%s %s %s\n", check, labelStyle.Render(f.Label+":"), f.Value)
	}
	if msg != "" {
		fmt.Fprintln(w, successStyle.Render(msg))
	}
}

// PrintWarnings lists warnings a finished tool run reported.
func PrintWarnings(w io.Writer, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	mark := warnStyle.Render("!")
	for _, line := range warnings {
		fmt.Fprintf(w, "%s %s\n", mark, line)
	}
}
