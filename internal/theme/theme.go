// Package theme holds the terminal styles used by notifyctl.
package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
)

// HeaderStyle is used for section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for one-line status summaries.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// UnreadStyle highlights the title of an unread notification.
var UnreadStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite)

// ReadStyle dims the title of a read notification.
var ReadStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// MetaStyle is used for timestamps, ids and other secondary text.
var MetaStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// ErrorStyle is used for warnings and failures.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// ConnectionStyle returns a color-coded style for a connection state or
// lifecycle event name.
func ConnectionStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch state {
	case "open", "connected":
		return base.Foreground(ColorGreen)
	case "connecting", "reconnecting":
		return base.Foreground(ColorYellow)
	case "closing", "disconnected":
		return base.Foreground(ColorOrange)
	case "closed", "auth required", "backend unavailable", "gave up":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// IconStyle returns a color-coded style for a notification icon tag.
func IconStyle(icon string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch icon {
	case "shipping", "order":
		return base.Foreground(ColorBlue)
	case "promo", "sale":
		return base.Foreground(ColorMagenta)
	case "payment":
		return base.Foreground(ColorGreen)
	case "alert", "warning":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}
