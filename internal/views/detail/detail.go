// Package detail renders the relay details overlay.
package detail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/lanrelay/lanrelay/internal/scanner"
	"github.com/lanrelay/lanrelay/internal/theme"
)

const panelWidth = 64

var stylePanel = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(theme.ColorBorder).
	Padding(0, 1)

// Model holds the state for the detail overlay.
type Model struct {
	Server *scanner.DiscoveredServer
}

func New(s scanner.DiscoveredServer) Model {
	return Model{Server: &s}
}

// Markdown describes the relay as a markdown document.
func Markdown(s scanner.DiscoveredServer) string {
	var b strings.Builder
	title := s.Details["name"]
	if title == "" {
		title = "Relay"
	}
	fmt.Fprintf(&b, "# %s\n\n`%s`\n\n", title, s.Path)

	if len(s.Details) == 0 {
		b.WriteString("_No details advertised._\n")
		return b.String()
	}

	keys := make([]string, 0, len(s.Details))
	for k := range s.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("| Key | Value |\n|---|---|\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "| %s | %s |\n", escape(k), escape(s.Details[k]))
	}
	return b.String()
}

// View renders the panel. Returns an empty string if no relay is set.
func (m Model) View() string {
	if m.Server == nil {
		return ""
	}
	md := Markdown(*m.Server)

	body := md
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(panelWidth-4),
	)
	if err == nil {
		if out, err := r.Render(md); err == nil {
			body = strings.TrimSpace(out)
		}
	}

	footer := theme.StyleDimmed.Render("enter:connect  esc:close")
	return stylePanel.Width(panelWidth).Render(body + "\n\n" + footer)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
