package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"asyncbuild/pkg/protocol"
)

// palette holds the styles for terminal output. Styling is off unless the
// writer is a terminal.
type palette struct {
	enabled bool
	header  lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
	id      lipgloss.Style
}

func newPalette(w io.Writer) palette {
	return palette{
		enabled: isTerminal(w),
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		fail:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		id:      lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p palette) render(s lipgloss.Style, text string) string {
	if !p.enabled {
		return text
	}
	return s.Render(text)
}

// state colours a state name by outcome.
func (p palette) state(st protocol.OperationState) string {
	switch st {
	case protocol.StateCompleted:
		return p.render(p.ok, string(st))
	case protocol.StateFailed:
		return p.render(p.fail, string(st))
	case protocol.StateTimedOut, protocol.StateCancelled:
		return p.render(p.warn, string(st))
	default:
		return p.render(p.muted, string(st))
	}
}
