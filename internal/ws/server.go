// Package ws implements the relay server: the info endpoint, the WebSocket
// upgrade pipeline, and message fan-out between admitted sessions.
package ws

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lanrelay/lanrelay/internal/delegate"
	"github.com/lanrelay/lanrelay/internal/protocol"
	"github.com/lanrelay/lanrelay/internal/session"
)

const (
	DefaultValidatorTimeout = 5 * time.Second

	streamBuffer = 256
)

var (
	ErrAlreadyRunning = errors.New("ws: server already running")
	ErrNotRunning     = errors.New("ws: server not running")
)

type Config struct {
	// Details is served verbatim by the info endpoint.
	Details map[string]string
	// Echo delivers a message to its sender as well as to every other session.
	Echo bool

	Authenticator    delegate.Authenticator
	ClientValidator  delegate.ClientValidator
	Observer         delegate.LifecycleObserver
	MessageValidator delegate.MessageValidator
	// ValidatorTimeout bounds each MessageValidator call. A call that runs
	// longer rejects the message.
	ValidatorTimeout time.Duration

	// MaxClients refuses upgrades once that many sessions are admitted. Zero
	// means unlimited.
	MaxClients int

	AllowedOrigins []string
	Logger         *zap.Logger
	// Metrics, when set, receives the relay's collectors and is exposed on
	// /metrics.
	Metrics *prometheus.Registry
}

type Server struct {
	cfg      Config
	log      *zap.Logger
	clients  *session.Set
	metrics  *metrics
	upgrader websocket.Upgrader
	handler  http.Handler

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	messages chan Inbound
	updates  chan []*session.Client
	running  chan bool

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	// stopped blocks admission while Stop drains the session set.
	stopped bool

	// hooks maps a session ID to a channel closed once its OnConnected
	// call has returned.
	hooks sync.Map
}

func NewServer(cfg Config) *Server {
	if cfg.ValidatorTimeout <= 0 {
		cfg.ValidatorTimeout = DefaultValidatorTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Details = maps.Clone(cfg.Details)
	if cfg.Details == nil {
		cfg.Details = make(map[string]string)
	}

	s := &Server{
		cfg:            cfg,
		log:            cfg.Logger.Named("server"),
		clients:        session.NewSet(),
		metrics:        newMetrics(cfg.Metrics),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		messages:       make(chan Inbound, streamBuffer),
		updates:        make(chan []*session.Client, streamBuffer),
		running:        make(chan bool, 16),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	router := httprouter.New()
	router.GET(protocol.InfoPath, s.handleInfo)
	router.GET(protocol.WSPath, s.handleWS)
	if cfg.Metrics != nil {
		router.Handler(http.MethodGet, protocol.MetricsPath, promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}
	s.handler = relayHeaders(router)

	return s
}

// Handler serves the relay's routes without binding a listener.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds host:port and serves in the background. A bind failure is
// returned directly.
func (s *Server) Start(host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpSrv = srv
	s.listener = ln
	s.stopped = false

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed", zap.Error(err))
		}
	}()

	s.log.Info("listening", zap.Stringer("addr", ln.Addr()), zap.Bool("echo", s.cfg.Echo))
	s.emitRunning(true)
	return nil
}

// Addr is the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpSrv != nil
}

// Stop disconnects every session, closes the listener and reports the
// combined errors. A session that fails to disconnect does not stop the rest.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpSrv
	if srv == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.httpSrv = nil
	s.listener = nil
	s.stopped = true
	removed := s.clients.Clear()
	s.mu.Unlock()

	var err error
	for _, c := range removed {
		if cerr := c.CloseWith(websocket.CloseGoingAway, "server stopping"); cerr != nil && !errors.Is(cerr, session.ErrNotConnected) {
			err = multierr.Append(err, fmt.Errorf("disconnect %s: %w", c.ID(), cerr))
		}
		s.notifyDisconnected(c)
	}
	s.metrics.setConnected(0)
	s.publishClients()

	err = multierr.Append(err, srv.Close())
	s.emitRunning(false)
	s.log.Info("stopped", zap.Int("sessions", len(removed)))
	return err
}

// Clients returns a snapshot of the admitted sessions in admission order.
func (s *Server) Clients() []*session.Client { return s.clients.All() }

// Messages streams every relayed message. Entries are dropped when nobody
// drains the stream.
func (s *Server) Messages() <-chan Inbound { return s.messages }

// ClientUpdates streams a snapshot of the session set after every change.
func (s *Server) ClientUpdates() <-chan []*session.Client { return s.updates }

// RunningChanges streams true on Start and false on Stop.
func (s *Server) RunningChanges() <-chan bool { return s.running }

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.cfg.Details)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	log := s.log.With(zap.String("remote", r.RemoteAddr))
	details := queryDetails(r.URL.Query())

	if a := s.cfg.Authenticator; a != nil {
		res := s.authenticate(a, r)
		if !res.OK {
			status := res.StatusCode
			if status < http.StatusBadRequest {
				status = http.StatusForbidden
			}
			s.metrics.authFailure()
			log.Info("authentication failed", zap.String("reason", res.Reason), zap.Int("status", status))
			writeError(w, status, protocol.CodeAuthenticationFailed, res.Reason)
			return
		}
		maps.Copy(details, res.Metadata)
	}

	if limit := s.cfg.MaxClients; limit > 0 && s.clients.Len() >= limit {
		log.Warn("connection limit reached", zap.Int("max", limit))
		writeError(w, http.StatusServiceUnavailable, protocol.CodeConnectionFailed, "connection limit reached")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := session.Accept(conn, details, session.WithLogger(s.log))
	log = log.With(zap.String("session", c.ID()))

	if v := s.cfg.ClientValidator; v != nil && !s.validateClient(v, c, r) {
		s.metrics.rejection()
		log.Info("client rejected")
		_ = c.CloseWith(websocket.ClosePolicyViolation, protocol.ValidationCloseReason)
		return
	}

	// OnDisconnected waits for connected to close, so a session's hooks
	// always run in order.
	var connected chan struct{}
	if s.cfg.Observer != nil {
		connected = make(chan struct{})
		s.hooks.Store(c.ID(), connected)
	}
	if !s.admit(c) {
		s.hooks.Delete(c.ID())
		_ = c.CloseWith(websocket.CloseGoingAway, "server stopping")
		return
	}
	log.Info("client connected", zap.Int("clients", s.clients.Len()))
	if obs := s.cfg.Observer; obs != nil {
		go func() {
			defer close(connected)
			s.safely("OnConnected", func() { obs.OnConnected(c) })
		}()
	}

	err = c.Serve(func(m session.Message) { s.receive(c, m) })

	if s.clients.Remove(c) {
		s.metrics.setConnected(s.clients.Len())
		s.publishClients()
		s.notifyDisconnected(c)
	}
	if f, ok := s.cfg.MessageValidator.(delegate.Forgetter); ok {
		f.Forget(c)
	}
	log.Info("client disconnected", zap.Error(err))
}

func (s *Server) admit(c *session.Client) bool {
	s.mu.Lock()
	if s.stopped || !s.clients.Add(c) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.metrics.setConnected(s.clients.Len())
	s.publishClients()
	return true
}

func (s *Server) authenticate(a delegate.Authenticator, r *http.Request) (res delegate.AuthResult) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("authenticator panicked", zap.Any("panic", p))
			res = delegate.Deny("authentication error", http.StatusInternalServerError)
		}
	}()
	return a.Authenticate(r)
}

func (s *Server) validateClient(v delegate.ClientValidator, c *session.Client, r *http.Request) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("client validator panicked", zap.Any("panic", p))
			ok = false
		}
	}()
	return v.ValidateClient(c, r)
}

type verdict struct {
	ok  bool
	err error
}

// validateMessage runs the message validator under ValidatorTimeout. Errors,
// panics and timeouts all reject.
func (s *Server) validateMessage(v delegate.MessageValidator, c *session.Client, m session.Message) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ValidatorTimeout)
	defer cancel()

	done := make(chan verdict, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- verdict{err: fmt.Errorf("validator panicked: %v", p)}
			}
		}()
		ok, err := v.ValidateMessage(ctx, c, m)
		done <- verdict{ok: ok, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			s.log.Debug("message rejected", zap.String("session", c.ID()), zap.Error(res.err))
			return false
		}
		return res.ok
	case <-ctx.Done():
		s.log.Warn("message validator timed out", zap.String("session", c.ID()), zap.Duration("timeout", s.cfg.ValidatorTimeout))
		return false
	}
}

func (s *Server) safely(hook string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("observer panicked", zap.String("hook", hook), zap.Any("panic", p))
		}
	}()
	fn()
}

func (s *Server) notifyDisconnected(c *session.Client) {
	obs := s.cfg.Observer
	if obs == nil {
		return
	}
	pending, _ := s.hooks.LoadAndDelete(c.ID())
	go func() {
		if connected, ok := pending.(chan struct{}); ok {
			<-connected
		}
		s.safely("OnDisconnected", func() { obs.OnDisconnected(c) })
	}()
}

func (s *Server) publishClients() {
	select {
	case s.updates <- s.clients.All():
	default:
		s.log.Warn("client update stream full, dropping snapshot")
	}
}

func (s *Server) publishMessage(in Inbound) {
	select {
	case s.messages <- in:
	default:
		s.log.Warn("message stream full, dropping message")
	}
}

func (s *Server) emitRunning(v bool) {
	select {
	case s.running <- v:
	default:
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	// Without an explicit list only same-host pages may connect.
	return parsed.Host == r.Host
}
