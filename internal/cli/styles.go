package cli

import "github.com/charmbracelet/lipgloss"

// Colors used by the status view.
const (
	colorAccent  = "86"  // Cyan/green - titles, healthy states
	colorDanger  = "196" // Red - exhausted items, errors
	colorWarning = "208" // Orange - pending or overdue
	colorMuted   = "241" // Gray - hints, empty states
)

var styles = struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	OK      lipgloss.Style
	Warn    lipgloss.Style
	Danger  lipgloss.Style
	Muted   lipgloss.Style
	Empty   lipgloss.Style
}{
	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(colorAccent)),
	Section: lipgloss.NewStyle().
		Bold(true).
		Underline(true),
	OK: lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorAccent)),
	Warn: lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorWarning)),
	Danger: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(colorDanger)),
	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorMuted)),
	Empty: lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorMuted)).
		Italic(true),
}

// statusStyle picks the style for a task status name.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return styles.OK
	case "awaiting_approval", "error_quarantined":
		return styles.Warn
	case "error_exhausted":
		return styles.Danger
	default:
		return lipgloss.NewStyle()
	}
}
