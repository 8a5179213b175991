// Package chatlog provides the scrollable message log of the chat screen.
package chatlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lanrelay/lanrelay/internal/theme"
)

const maxEntries = 500

// Entry kinds.
const (
	KindIn     = "in"
	KindOut    = "out"
	KindSystem = "sys"
	KindError  = "err"
)

// Entry is a single log line.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string
}

// Model holds log state.
type Model struct {
	Entries []Entry
	Offset  int // scroll offset (from bottom)

	now func() time.Time
}

// New creates an empty log.
func New() Model {
	return Model{now: time.Now}
}

// Add appends an entry and caps the buffer.
func (m *Model) Add(kind, message string) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.Entries = append(m.Entries, Entry{
		Time:    now(),
		Kind:    kind,
		Message: message,
	})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	// New entries snap back to the bottom.
	m.Offset = 0
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset += n
	limit := len(m.Entries) - 1
	if limit < 0 {
		limit = 0
	}
	if m.Offset > limit {
		m.Offset = limit
	}
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// View renders the visible tail of the log in a panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 2
	if visibleLines < 3 {
		visibleLines = 3
	}

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No messages yet. Type below and press enter.")
		return theme.Panel(innerW).Render(body)
	}

	end := len(m.Entries) - m.Offset
	start := end - visibleLines
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}

	var lines []string
	for i := start; i < end; i++ {
		e := m.Entries[i]
		tsStr := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
		kindStr := lipgloss.NewStyle().Foreground(kindToColor(e.Kind)).Width(4).Render(e.Kind)
		msgStr := e.Message
		if len(msgStr) > innerW-16 && innerW > 20 {
			msgStr = msgStr[:innerW-19] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", tsStr, kindStr, msgStr))
	}

	if m.Offset > 0 {
		lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset)))
	}
	return theme.Panel(innerW).Render(strings.Join(lines, "\n"))
}

func kindToColor(kind string) lipgloss.Color {
	switch kind {
	case KindIn:
		return theme.ColorIncoming
	case KindOut:
		return theme.ColorOutgoing
	case KindSystem:
		return theme.ColorSystem
	case KindError:
		return theme.ColorError
	default:
		return theme.ColorDimmed
	}
}
