// Package session implements the relay session entity: one logical peer with
// its transport, inbound message stream and status stream. The same type
// serves the connecting side (Connect, optional auto-reconnect) and the relay
// side (Accept + Serve).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanrelay/lanrelay/internal/protocol"
)

const streamBuffer = 256

// Option configures a Client.
type Option func(*Client)

// WithReconnect attaches a reconnect policy to a connecting Client.
func WithReconnect(p ReconnectPolicy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock replaces the wall clock used for reconnect delays.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHeader sets extra request headers sent with every handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h.Clone() }
}

// Client is one peer of the relay. Its ID and details never change after
// construction. It holds a live transport if and only if its status is
// Connected.
type Client struct {
	id      string
	details map[string]string

	policy ReconnectPolicy
	log    *zap.Logger
	clock  clock.Clock
	dialer *websocket.Dialer
	header http.Header

	messages chan Message
	statuses chan Status

	mu            sync.Mutex
	link          *link
	status        Status
	target        string
	attempts      int
	lastConnected time.Time
	cycle         context.Context
	cancel        context.CancelFunc // stops the current connect/reconnect cycle
	err           error
}

// NewClient creates a disconnected client carrying details.
func NewClient(details map[string]string, opts ...Option) *Client {
	c := &Client{
		id:       uuid.NewString(),
		details:  maps.Clone(details),
		log:      zap.NewNop(),
		clock:    clock.New(),
		dialer:   websocket.DefaultDialer,
		messages: make(chan Message, streamBuffer),
		statuses: make(chan Status, streamBuffer),
	}
	if c.details == nil {
		c.details = make(map[string]string)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("session", c.id))
	return c
}

// Accept wraps a transport the relay has just upgraded. The returned client
// is Connected; the caller drives it with Serve.
func Accept(conn *websocket.Conn, details map[string]string, opts ...Option) *Client {
	c := NewClient(details, opts...)
	c.mu.Lock()
	c.attachLocked(conn)
	c.mu.Unlock()
	return c
}

func (c *Client) ID() string { return c.id }

// Details returns a copy of the client's metadata.
func (c *Client) Details() map[string]string {
	return maps.Clone(c.details)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that last left the client disconnected, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Messages streams frames received on a connection opened with Connect.
func (c *Client) Messages() <-chan Message { return c.messages }

// Statuses streams every status transition.
func (c *Client) Statuses() <-chan Status { return c.statuses }

// Connect dials rawURL with the client's details merged into its query.
// Details overwrite URL parameters of the same name.
func (c *Client) Connect(ctx context.Context, rawURL string) error {
	target, err := withDetails(rawURL, c.details)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	c.mu.Lock()
	if c.status != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	cycle, cancel := context.WithCancel(context.Background())
	c.cycle = cycle
	c.cancel = cancel
	c.target = target
	c.attempts = 0
	c.err = nil
	c.setStatusLocked(Connecting)
	c.mu.Unlock()

	dialCtx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(cycle, stop)
	defer unhook()

	conn, err := c.dial(dialCtx, target)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil && cycle.Err() != nil {
		_ = conn.Close()
		err = &ConnectionError{Err: cycle.Err()}
	}
	if err != nil {
		cancel()
		if c.cycle == cycle {
			c.err = err
			c.setStatusLocked(Disconnected)
		}
		c.log.Debug("connect failed", zap.String("url", target), zap.Error(err))
		return err
	}

	l := c.attachLocked(conn)
	go c.readLoop(l, cycle)
	c.log.Info("connected", zap.String("url", target))
	return nil
}

// Disconnect stops any reconnect cycle, then closes the transport. It is safe
// to call in any state.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	l := c.link
	c.link = nil
	c.setStatusLocked(Disconnected)
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	return l.shutdown(websocket.CloseNormalClosure, "")
}

// CloseWith closes the transport with a close frame carrying code and reason.
func (c *Client) CloseWith(code int, reason string) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	l := c.link
	c.link = nil
	c.setStatusLocked(Disconnected)
	c.mu.Unlock()

	if l == nil {
		return ErrNotConnected
	}
	return l.shutdown(code, reason)
}

// Send queues m for delivery. It fails with ErrNotConnected when the client
// has no live transport.
func (c *Client) Send(m Message) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	return l.enqueue(m)
}

func (c *Client) SendText(s string) error { return c.Send(Text(s)) }

func (c *Client) SendBinary(b []byte) error { return c.Send(Binary(b)) }

// SendJSON encodes v and sends it as a text frame.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.Send(Message{Kind: TextMessage, Data: data})
}

// Serve reads the transport of an accepted client, handing each frame to
// handle, until the transport closes. A normal close returns nil.
func (c *Client) Serve(handle func(Message)) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	err := l.readPump(handle)

	c.mu.Lock()
	if c.link == l {
		c.link = nil
		c.setStatusLocked(Disconnected)
	}
	c.mu.Unlock()
	l.close()

	if code, _, ok := closeCode(err); ok && (code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (c *Client) String() string {
	return c.id
}

func (c *Client) attachLocked(conn *websocket.Conn) *link {
	l := newLink(conn, c.log)
	c.link = l
	c.lastConnected = c.clock.Now()
	c.setStatusLocked(Connected)
	return l
}

func (c *Client) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	select {
	case c.statuses <- s:
	default:
		c.log.Warn("status stream full, dropping transition", zap.Stringer("status", s))
	}
}

func (c *Client) publish(m Message) {
	select {
	case c.messages <- m:
	default:
		c.log.Warn("message stream full, dropping message", zap.Int("bytes", len(m.Data)))
	}
}

func (c *Client) readLoop(l *link, cycle context.Context) {
	err := l.readPump(c.publish)
	c.lost(l, cycle, err)
}

// lost handles a transport that failed underneath an initiating client.
func (c *Client) lost(l *link, cycle context.Context, cause error) {
	l.close()

	c.mu.Lock()
	if c.link != l {
		// Disconnect already took the link away.
		c.mu.Unlock()
		return
	}
	c.link = nil

	if code, reason, ok := closeCode(cause); ok && code == websocket.ClosePolicyViolation {
		c.cancel()
		c.err = &ValidationError{Reason: reason}
		c.setStatusLocked(Disconnected)
		c.mu.Unlock()
		c.log.Warn("relay rejected client", zap.String("reason", reason))
		return
	}

	if c.policy == nil || cycle.Err() != nil {
		c.cancel()
		c.err = &ConnectionError{Err: cause}
		c.setStatusLocked(Disconnected)
		c.mu.Unlock()
		c.log.Info("disconnected", zap.Error(cause))
		return
	}

	c.setStatusLocked(Connecting)
	target := c.target
	c.mu.Unlock()

	c.log.Info("connection lost, reconnecting", zap.Error(cause))
	go c.reconnect(cycle, target)
}

func (c *Client) reconnect(cycle context.Context, target string) {
	for {
		c.mu.Lock()
		attempt := c.attempts
		elapsed := c.clock.Since(c.lastConnected)
		c.mu.Unlock()

		if cycle.Err() != nil {
			return
		}

		if !c.policy.ShouldReconnect(attempt, elapsed) {
			c.mu.Lock()
			if cycle.Err() == nil {
				c.cancel()
				c.err = &ConnectionError{Err: fmt.Errorf("gave up after %d reconnect attempts", attempt)}
				c.setStatusLocked(Disconnected)
			}
			c.mu.Unlock()
			c.log.Warn("reconnect abandoned", zap.Int("attempts", attempt))
			c.policy.OnReconnectFailed(attempt)
			return
		}

		timer := c.clock.Timer(c.policy.Delay(attempt))
		select {
		case <-timer.C:
		case <-cycle.Done():
			timer.Stop()
			return
		}

		c.mu.Lock()
		if cycle.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.attempts++
		n := c.attempts
		c.mu.Unlock()

		conn, err := c.dial(cycle, target)
		if err != nil {
			c.log.Debug("reconnect attempt failed", zap.Int("attempt", n), zap.Error(err))
			continue
		}

		c.mu.Lock()
		if cycle.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.attempts = 0
		l := c.attachLocked(conn)
		c.mu.Unlock()

		go c.readLoop(l, cycle)
		c.log.Info("reconnected", zap.Int("attempt", n))
		c.policy.OnReconnected(n)
		return
	}
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, target, c.header)
	if err == nil {
		return conn, nil
	}
	if resp == nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, newAuthError(resp.StatusCode, refusalReason(resp.Body))
	default:
		return nil, &ConnectionError{Err: fmt.Errorf("%w: HTTP %d", err, resp.StatusCode)}
	}
}

func refusalReason(body io.Reader) string {
	var eb protocol.ErrorBody
	if err := json.NewDecoder(body).Decode(&eb); err != nil {
		return ""
	}
	return eb.Error.Message
}

func withDetails(rawURL string, details map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range details {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
