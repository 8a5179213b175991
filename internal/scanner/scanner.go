// Package scanner finds relays on a /24 subnet by probing the info endpoint
// of every host address.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lanrelay/lanrelay/internal/protocol"
)

const (
	DefaultTimeout     = time.Second
	DefaultConcurrency = 256

	hostsPerPrefix = 256

	// maxInfoBody caps how much of an info response is read. Larger bodies
	// are not relays.
	maxInfoBody = 64 << 10
)

var ErrInvalidHost = errors.New("scanner: host needs at least three numeric dot-separated segments")

// DiscoveredServer is a relay that answered a probe.
type DiscoveredServer struct {
	Path    string            `json:"path"`
	Details map[string]string `json:"details"`
}

// Equal reports whether both discoveries point at the same relay. Details
// are ignored.
func (d DiscoveredServer) Equal(other DiscoveredServer) bool {
	return d.Path == other.Path
}

// Prefix derives the /24 prefix ("a.b.c") that host belongs to.
func Prefix(host string) (string, error) {
	if host == "localhost" || host == "127.0.0.1" {
		return "127.0.0", nil
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	for _, p := range parts[:3] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("%w: %q", ErrInvalidHost, host)
		}
	}
	return strings.Join(parts[:3], "."), nil
}

type Option func(*Scanner)

// WithTimeout bounds each probe independently.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithProduct sets the token the Server header must contain.
func WithProduct(name string) Option {
	return func(s *Scanner) { s.product = name }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Scanner) {
		if c != nil {
			s.client = c
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Scanner) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(s *Scanner) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithConcurrency caps the number of probes in flight.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Scanner holds no state between rounds and is safe for concurrent use.
type Scanner struct {
	timeout     time.Duration
	product     string
	concurrency int
	client      *http.Client
	log         *zap.Logger
	clock       clock.Clock
}

func New(opts ...Option) *Scanner {
	s := &Scanner{
		timeout:     DefaultTimeout,
		product:     protocol.ProductName,
		concurrency: DefaultConcurrency,
		client:      &http.Client{},
		log:         zap.NewNop(),
		clock:       clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("scanner")
	return s
}

// Scan probes every address of host's /24 on port and returns the relays that
// answered, ordered by address. The round is all or nothing: a cancelled
// context yields no partial result.
func (s *Scanner) Scan(ctx context.Context, host string, port int) ([]DiscoveredServer, error) {
	prefix, err := Prefix(host)
	if err != nil {
		return nil, err
	}
	return s.scanPrefix(ctx, prefix, port)
}

func (s *Scanner) scanPrefix(ctx context.Context, prefix string, port int) ([]DiscoveredServer, error) {
	start := s.clock.Now()
	hits := make([]*DiscoveredServer, hostsPerPrefix)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := 0; i < hostsPerPrefix; i++ {
		i := i
		addr := prefix + "." + strconv.Itoa(i)
		g.Go(func() error {
			if d, ok := s.probe(gctx, addr, port); ok {
				hits[i] = &d
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	found := make([]DiscoveredServer, 0)
	for _, d := range hits {
		if d != nil {
			found = append(found, *d)
		}
	}
	s.log.Debug("scan round complete",
		zap.String("prefix", prefix),
		zap.Int("port", port),
		zap.Int("found", len(found)),
		zap.Duration("took", s.clock.Since(start)))
	return found, nil
}

// probe reports whether addr:port serves a relay info endpoint. Every kind
// of failure counts as a miss.
func (s *Scanner) probe(ctx context.Context, addr string, port int) (DiscoveredServer, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	infoURL := "http://" + hostPort(addr, port) + protocol.InfoPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return DiscoveredServer{}, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return DiscoveredServer{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Server"), s.product) {
		return DiscoveredServer{}, false
	}
	var details map[string]string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxInfoBody)).Decode(&details); err != nil || details == nil {
		return DiscoveredServer{}, false
	}
	return DiscoveredServer{Path: protocol.WSURL(addr, port), Details: details}, true
}

// Watch runs a round immediately and then every interval until ctx is done,
// sending each complete round on the returned channel. The channel is closed
// when ctx ends.
func (s *Scanner) Watch(ctx context.Context, host string, port int, interval time.Duration) (<-chan []DiscoveredServer, error) {
	prefix, err := Prefix(host)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("scanner: watch interval must be positive, got %s", interval)
	}

	out := make(chan []DiscoveredServer)
	go func() {
		defer close(out)
		for {
			found, err := s.scanPrefix(ctx, prefix, port)
			if err != nil {
				return
			}
			select {
			case out <- found:
			case <-ctx.Done():
				return
			}

			timer := s.clock.Timer(interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
	return out, nil
}

func hostPort(addr string, port int) string {
	return addr + ":" + strconv.Itoa(port)
}
