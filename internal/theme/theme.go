// Package theme provides the Lip Gloss color palette and reusable styles
// for the LanRelay TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection colors.
var (
	ColorConnected    = lipgloss.Color("#22c55e")
	ColorConnecting   = lipgloss.Color("#d97706")
	ColorDisconnected = lipgloss.Color("#dc2626")
)

// Log entry colors.
var (
	ColorIncoming = lipgloss.Color("#3b82f6")
	ColorOutgoing = lipgloss.Color("#a855f7")
	ColorSystem   = lipgloss.Color("#7c3aed")
	ColorError    = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
	ColorAccent = lipgloss.Color("#06b6d4")
)

// StatusColor returns the color for a connection status name.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "connected":
		return ColorConnected
	case "connecting":
		return ColorConnecting
	default:
		return ColorDisconnected
	}
}

// StatusGlyph returns a Unicode glyph representing a connection status.
func StatusGlyph(status string) string {
	switch status {
	case "connected":
		return "●"
	case "connecting":
		return "◌"
	default:
		return "○"
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)
)

// Panel returns the shared double-border panel style.
func Panel(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder)
}
