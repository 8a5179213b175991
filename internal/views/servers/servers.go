// Package servers renders the list of relays found on the LAN.
package servers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lanrelay/lanrelay/internal/scanner"
	"github.com/lanrelay/lanrelay/internal/theme"
)

// Model holds the browser list state.
type Model struct {
	Servers  []scanner.DiscoveredServer
	Selected int
	Rounds   int
	Target   string // what is being scanned, e.g. "192.168.1.0/24:8080"
	Width    int
}

func New(target string) Model {
	return Model{Target: target}
}

// SetServers replaces the list with the latest round, keeping the cursor on
// the same relay when it is still present.
func (m *Model) SetServers(found []scanner.DiscoveredServer) {
	var current string
	if sel, ok := m.Current(); ok {
		current = sel.Path
	}

	m.Servers = found
	m.Rounds++
	m.Selected = 0
	for i, s := range found {
		if s.Path == current {
			m.Selected = i
			break
		}
	}
}

// Current returns the highlighted relay.
func (m Model) Current() (scanner.DiscoveredServer, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Servers) {
		return scanner.DiscoveredServer{}, false
	}
	return m.Servers[m.Selected], true
}

func (m *Model) Next() {
	if len(m.Servers) > 0 {
		m.Selected = (m.Selected + 1) % len(m.Servers)
	}
}

func (m *Model) Prev() {
	if len(m.Servers) > 0 {
		m.Selected = (m.Selected - 1 + len(m.Servers)) % len(m.Servers)
	}
}

func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	title := theme.StyleHeader.Render(" RELAYS ") + theme.StyleDimmed.Render(" on "+m.Target)
	lines := []string{title, ""}

	switch {
	case m.Rounds == 0:
		lines = append(lines, theme.StyleDimmed.Render("  Scanning..."))
	case len(m.Servers) == 0:
		lines = append(lines, theme.StyleDimmed.Render("  No relays found. Still looking."))
	}

	for i, s := range m.Servers {
		prefix := "  "
		style := lipgloss.NewStyle()
		if i == m.Selected {
			prefix = "> "
			style = theme.StyleSelected
		}
		lines = append(lines, prefix+style.Render(Label(s)))
	}

	lines = append(lines, "", theme.StyleDimmed.Render(fmt.Sprintf("  %d found after %d rounds", len(m.Servers), m.Rounds)))
	return theme.Panel(width - 4).Render(strings.Join(lines, "\n"))
}

// Label is the one-line description of a relay: its name detail if any,
// then its address, then the remaining details.
func Label(s scanner.DiscoveredServer) string {
	var parts []string
	if name := s.Details["name"]; name != "" {
		parts = append(parts, name)
	}
	parts = append(parts, s.Path)

	keys := make([]string, 0, len(s.Details))
	for k := range s.Details {
		if k != "name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, theme.StyleDimmed.Render(k+"="+s.Details[k]))
	}
	return strings.Join(parts, "  ")
}
