package render

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Column budgets for free text on a step line.
const (
	TaskWidth  = 40
	ErrorWidth = 60
)

// Truncate shortens s to width visual columns, ending in "..." when cut.
// Escape sequences and wide characters are measured correctly.
func Truncate(s string, width int) string {
	if width <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}
