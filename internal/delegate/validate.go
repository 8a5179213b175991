package delegate

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lanrelay/lanrelay/internal/session"
)

// ClientValidator decides whether a freshly upgraded session may join the
// relay. A rejected session is closed with a policy violation.
type ClientValidator interface {
	ValidateClient(c *session.Client, r *http.Request) bool
}

type ClientValidatorFunc func(c *session.Client, r *http.Request) bool

func (f ClientValidatorFunc) ValidateClient(c *session.Client, r *http.Request) bool { return f(c, r) }

// RequireDetails rejects sessions missing any of keys or carrying an empty
// value for one.
func RequireDetails(keys ...string) ClientValidator {
	return ClientValidatorFunc(func(c *session.Client, _ *http.Request) bool {
		details := c.Details()
		for _, k := range keys {
			if details[k] == "" {
				return false
			}
		}
		return true
	})
}

// MessageValidator screens every inbound message before it is relayed. A
// false result or an error drops the message.
type MessageValidator interface {
	ValidateMessage(ctx context.Context, c *session.Client, m session.Message) (bool, error)
}

type MessageValidatorFunc func(ctx context.Context, c *session.Client, m session.Message) (bool, error)

func (f MessageValidatorFunc) ValidateMessage(ctx context.Context, c *session.Client, m session.Message) (bool, error) {
	return f(ctx, c, m)
}

// MaxSize drops messages whose payload exceeds n bytes.
func MaxSize(n int) MessageValidator {
	return MessageValidatorFunc(func(_ context.Context, _ *session.Client, m session.Message) (bool, error) {
		if len(m.Data) > n {
			return false, fmt.Errorf("message of %d bytes exceeds limit of %d", len(m.Data), n)
		}
		return true, nil
	})
}

// RateLimiter allows each session perSecond messages with the given burst.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func RateLimit(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) ValidateMessage(_ context.Context, c *session.Client, _ session.Message) (bool, error) {
	return l.limiter(c.ID()).Allow(), nil
}

// Forget drops the bucket of a session that has left.
func (l *RateLimiter) Forget(c *session.Client) {
	l.mu.Lock()
	delete(l.limiters, c.ID())
	l.mu.Unlock()
}

// Len reports how many sessions currently hold a bucket.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *RateLimiter) limiter(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	return lim
}

// Forgetter is implemented by validators that keep per-session state. The
// relay calls Forget once a session has left.
type Forgetter interface {
	Forget(c *session.Client)
}

// Chained passes a message only if every member does, stopping at the first
// rejection. Forget reaches every member that keeps per-session state.
type Chained []MessageValidator

// Chain combines validators into one.
func Chain(validators ...MessageValidator) Chained {
	return Chained(validators)
}

func (ch Chained) ValidateMessage(ctx context.Context, c *session.Client, m session.Message) (bool, error) {
	for _, v := range ch {
		ok, err := v.ValidateMessage(ctx, c, m)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (ch Chained) Forget(c *session.Client) {
	for _, v := range ch {
		if f, ok := v.(Forgetter); ok {
			f.Forget(c)
		}
	}
}
