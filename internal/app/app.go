package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lanrelay/lanrelay/internal/scanner"
	"github.com/lanrelay/lanrelay/internal/session"
	"github.com/lanrelay/lanrelay/internal/theme"
	"github.com/lanrelay/lanrelay/internal/views/chatlog"
	"github.com/lanrelay/lanrelay/internal/views/detail"
	"github.com/lanrelay/lanrelay/internal/views/servers"
	"github.com/lanrelay/lanrelay/internal/views/status"
)

// Mode identifies which screen is active.
type Mode int

const (
	ModeBrowse Mode = iota
	ModeChat
)

// Messages delivered to Update by the commands below. Each carries the ID of
// the session it came from so that events from a session the user already
// left are dropped.
type (
	roundMsg    []scanner.DiscoveredServer
	scanDoneMsg struct{}

	statusMsg struct {
		id     string
		status session.Status
		err    error
	}
	chatMsg struct {
		id  string
		msg session.Message
	}
	connectMsg struct {
		id  string
		err error
	}
)

// Options configures the root model.
type Options struct {
	// Rounds delivers scan results. Nil disables the browser.
	Rounds <-chan []scanner.DiscoveredServer
	// Target describes what is being scanned.
	Target string
	// URL, when set, opens a chat with that relay immediately.
	URL string
	// NewClient builds a fresh client for every chat.
	NewClient func() *session.Client
}

// Model is the root Bubble Tea model.
type Model struct {
	opts Options
	keys KeyMap

	width  int
	height int

	mode    Mode
	overlay bool

	// Active chat. cancel releases the commands listening on the client.
	client *session.Client
	ctx    context.Context
	cancel context.CancelFunc

	// Sub-views.
	statusBar status.Model
	list      servers.Model
	log       chatlog.Model
	info      detail.Model
	input     textinput.Model
}

// New creates the root model.
func New(opts Options) Model {
	in := textinput.New()
	in.Placeholder = "type a message"
	in.CharLimit = 4096
	in.Prompt = "> "

	return Model{
		opts:      opts,
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		list:      servers.New(opts.Target),
		log:       chatlog.New(),
		input:     in,
	}
}

// Init starts listening for scan rounds and, with a preset URL, connects.
func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.opts.Rounds != nil {
		cmds = append(cmds, waitRound(m.opts.Rounds))
	}
	if m.opts.URL != "" {
		cmds = append(cmds, func() tea.Msg { return openMsg{url: m.opts.URL} })
	}
	return tea.Batch(cmds...)
}

type openMsg struct{ url string }

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.list.Width = msg.Width
		m.input.Width = msg.Width - 6
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case roundMsg:
		m.list.SetServers(msg)
		return m, waitRound(m.opts.Rounds)

	case scanDoneMsg:
		return m, nil

	case openMsg:
		return m.open(msg.url)

	case connectMsg:
		if !m.current(msg.id) {
			return m, nil
		}
		// the failure itself arrives as a Disconnected status
		if msg.err != nil {
			m.statusBar.Err = msg.err
		}
		return m, nil

	case statusMsg:
		if !m.current(msg.id) {
			return m, nil
		}
		m.statusBar.Status = msg.status
		m.statusBar.Err = msg.err
		switch msg.status {
		case session.Connected:
			m.log.Add(chatlog.KindSystem, "connected to "+m.statusBar.URL)
		case session.Connecting:
			m.log.Add(chatlog.KindSystem, "connecting...")
		case session.Disconnected:
			text := "disconnected"
			if msg.err != nil {
				text += ": " + msg.err.Error()
			}
			m.log.Add(chatlog.KindSystem, text)
		}
		return m, waitStatus(m.ctx, m.client)

	case chatMsg:
		if !m.current(msg.id) {
			return m, nil
		}
		m.statusBar.Received++
		text := msg.msg.String()
		if msg.msg.Kind == session.BinaryMessage {
			text = fmt.Sprintf("[%d bytes binary]", len(msg.msg.Data))
		}
		m.log.Add(chatlog.KindIn, text)
		return m, waitMessage(m.ctx, m.client)
	}

	if m.mode == ModeChat {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		m.leave()
		return m, tea.Quit
	}

	if m.overlay {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = false
		case key.Matches(msg, m.keys.Enter):
			m.overlay = false
			if s, ok := m.list.Current(); ok {
				return m.open(s.Path)
			}
		}
		return m, nil
	}

	if m.mode == ModeChat {
		return m.handleChatKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		m.list.Next()

	case key.Matches(msg, m.keys.Up):
		m.list.Prev()

	case key.Matches(msg, m.keys.Details):
		if s, ok := m.list.Current(); ok {
			m.info = detail.New(s)
			m.overlay = true
		}

	case key.Matches(msg, m.keys.Enter):
		if s, ok := m.list.Current(); ok {
			return m.open(s.Path)
		}
	}
	return m, nil
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.leave()
		m.mode = ModeBrowse
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.log.ScrollUp(m.logHeight() / 2)
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.log.ScrollDown(m.logHeight() / 2)
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		text := m.input.Value()
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		if m.client == nil {
			return m, nil
		}
		if err := m.client.SendText(text); err != nil {
			m.log.Add(chatlog.KindError, "send failed: "+err.Error())
			return m, nil
		}
		m.statusBar.Sent++
		m.log.Add(chatlog.KindOut, text)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// open switches to the chat screen and starts connecting to url.
func (m Model) open(url string) (tea.Model, tea.Cmd) {
	m.leave()

	m.mode = ModeChat
	m.log = chatlog.New()
	m.statusBar = status.New()
	m.statusBar.Width = m.width
	m.statusBar.URL = url

	if m.opts.NewClient == nil {
		m.log.Add(chatlog.KindError, "no client configured")
		return m, nil
	}
	m.client = m.opts.NewClient()
	m.ctx, m.cancel = context.WithCancel(context.Background())

	return m, tea.Batch(
		m.input.Focus(),
		waitStatus(m.ctx, m.client),
		waitMessage(m.ctx, m.client),
		connect(m.ctx, m.client, url),
	)
}

// leave drops the active chat, if any.
func (m *Model) leave() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.client != nil {
		_ = m.client.Disconnect()
	}
	m.client = nil
	m.ctx = nil
	m.cancel = nil
	m.input.Blur()
	m.input.Reset()
}

func (m Model) current(id string) bool {
	return m.client != nil && m.client.ID() == id
}

func (m Model) logHeight() int {
	// status bar, input and footer each take their own rows
	h := m.height - 8
	if h < 3 {
		h = 3
	}
	return h
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.overlay {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.info.View())
	}

	if m.mode == ModeChat {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.statusBar.View(),
			m.log.View(m.width, m.logHeight()),
			m.input.View(),
			theme.StyleDimmed.Render("  enter:send  pgup/pgdn:scroll  esc:leave  ctrl+c:quit"),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.list.View(),
		theme.StyleDimmed.Render("  j/k:navigate  enter:connect  d:details  q:quit"),
	)
}

func waitRound(rounds <-chan []scanner.DiscoveredServer) tea.Cmd {
	return func() tea.Msg {
		found, ok := <-rounds
		if !ok {
			return scanDoneMsg{}
		}
		return roundMsg(found)
	}
}

func waitStatus(ctx context.Context, c *session.Client) tea.Cmd {
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case s := <-c.Statuses():
			var err error
			if s == session.Disconnected {
				err = c.Err()
			}
			return statusMsg{id: c.ID(), status: s, err: err}
		case <-ctx.Done():
			return nil
		}
	}
}

func waitMessage(ctx context.Context, c *session.Client) tea.Cmd {
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case msg := <-c.Messages():
			return chatMsg{id: c.ID(), msg: msg}
		case <-ctx.Done():
			return nil
		}
	}
}

func connect(ctx context.Context, c *session.Client, url string) tea.Cmd {
	return func() tea.Msg {
		return connectMsg{id: c.ID(), err: c.Connect(ctx, url)}
	}
}
