package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/lanrelay/lanrelay/internal/session"
	"github.com/lanrelay/lanrelay/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	Status   session.Status
	URL      string
	Sent     int
	Received int
	// Err is the reason the last connection ended, if any.
	Err   error
	Width int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	name := m.Status.String()
	label := map[session.Status]string{
		session.Connected:    "Connected",
		session.Connecting:   "Connecting...",
		session.Disconnected: "Disconnected",
	}[m.Status]
	connStr := lipgloss.NewStyle().Foreground(theme.StatusColor(name)).Render(theme.StatusGlyph(name) + " " + label)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr
	if m.URL != "" {
		content += sep + m.URL
	}
	content += sep + fmt.Sprintf("%d sent  %d received", m.Sent, m.Received)
	if m.Err != nil && m.Status == session.Disconnected {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorError).Render(m.Err.Error())
	}

	return theme.Panel(width).Render(content)
}
