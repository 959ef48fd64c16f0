package output

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette. Basic ANSI colors so output follows the terminal theme.
const (
	ColorRed    = "1"
	ColorGreen  = "2"
	ColorYellow = "3"
	ColorCyan   = "6"
	ColorGray   = "8"
)

// Styles holds the text styles used for CLI output.
type Styles struct {
	Plain   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style

	// Change kinds
	Created    lipgloss.Style
	Removed    lipgloss.Style
	Modified   lipgloss.Style
	Invalidate lipgloss.Style
}

// NewStyles returns styles rendering for out. Without color every style
// renders plain text.
func NewStyles(out io.Writer, useColor bool) Styles {
	profile := termenv.Ascii
	if useColor {
		profile = termenv.ANSI
	}
	r := lipgloss.NewRenderer(out, termenv.WithProfile(profile))
	fg := func(color string) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color(color))
	}

	return Styles{
		Plain:      r.NewStyle(),
		Success:    fg(ColorGreen),
		Warning:    fg(ColorYellow),
		Error:      fg(ColorRed),
		Dim:        fg(ColorGray),
		Created:    fg(ColorGreen),
		Removed:    fg(ColorRed),
		Modified:   fg(ColorCyan),
		Invalidate: fg(ColorYellow),
	}
}

// Kind returns the style for a change kind such as "CREATED".
func (s Styles) Kind(kind string) lipgloss.Style {
	switch kind {
	case "CREATED":
		return s.Created
	case "REMOVED":
		return s.Removed
	case "MODIFIED":
		return s.Modified
	case "INVALIDATE":
		return s.Invalidate
	default:
		return s.Dim
	}
}

// Level returns the style for a log level name.
func (s Styles) Level(level string) lipgloss.Style {
	switch strings.ToLower(level) {
	case "debug":
		return s.Dim
	case "info":
		return s.Success
	case "warn", "warning":
		return s.Warning
	case "error":
		return s.Error
	default:
		return s.Plain
	}
}
