package session

import (
	"math"
	"time"
)

// ReconnectPolicy decides whether and when a Client redials after losing its
// transport. Attempt numbers start at zero for the first redial after a loss.
type ReconnectPolicy interface {
	ShouldReconnect(attempt int, elapsed time.Duration) bool
	Delay(attempt int) time.Duration
	// OnReconnected is called with the attempt number that succeeded.
	OnReconnected(attempt int)
	// OnReconnectFailed is called once when the policy gives up.
	OnReconnectFailed(attempts int)
}

// ExponentialBackoff waits InitialDelay*Multiplier^attempt, capped at
// MaxDelay, and gives up after MaxAttempts. Zero fields take the defaults of
// NewExponentialBackoff.
type ExponentialBackoff struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	OnSuccess func(attempt int)
	OnFailure func(attempts int)
}

func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func (p *ExponentialBackoff) ShouldReconnect(attempt int, _ time.Duration) bool {
	return attempt < orInt(p.MaxAttempts, 5)
}

func (p *ExponentialBackoff) Delay(attempt int) time.Duration {
	initial := float64(orDuration(p.InitialDelay, time.Second))
	ceiling := orDuration(p.MaxDelay, 30*time.Second)
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}

	d := initial * math.Pow(mult, float64(attempt))
	if d >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}

func (p *ExponentialBackoff) OnReconnected(attempt int) {
	if p.OnSuccess != nil {
		p.OnSuccess(attempt)
	}
}

func (p *ExponentialBackoff) OnReconnectFailed(attempts int) {
	if p.OnFailure != nil {
		p.OnFailure(attempts)
	}
}

// LinearBackoff waits Interval*(attempt+1) and gives up after MaxAttempts.
type LinearBackoff struct {
	MaxAttempts int
	Interval    time.Duration

	OnSuccess func(attempt int)
	OnFailure func(attempts int)
}

func NewLinearBackoff() *LinearBackoff {
	return &LinearBackoff{MaxAttempts: 10, Interval: 2 * time.Second}
}

func (p *LinearBackoff) ShouldReconnect(attempt int, _ time.Duration) bool {
	return attempt < orInt(p.MaxAttempts, 10)
}

func (p *LinearBackoff) Delay(attempt int) time.Duration {
	return orDuration(p.Interval, 2*time.Second) * time.Duration(attempt+1)
}

func (p *LinearBackoff) OnReconnected(attempt int) {
	if p.OnSuccess != nil {
		p.OnSuccess(attempt)
	}
}

func (p *LinearBackoff) OnReconnectFailed(attempts int) {
	if p.OnFailure != nil {
		p.OnFailure(attempts)
	}
}

// InfiniteReconnect redials every Interval forever.
type InfiniteReconnect struct {
	Interval time.Duration

	OnSuccess func(attempt int)
}

func NewInfiniteReconnect() *InfiniteReconnect {
	return &InfiniteReconnect{Interval: 5 * time.Second}
}

func (p *InfiniteReconnect) ShouldReconnect(int, time.Duration) bool { return true }

func (p *InfiniteReconnect) Delay(int) time.Duration {
	return orDuration(p.Interval, 5*time.Second)
}

func (p *InfiniteReconnect) OnReconnected(attempt int) {
	if p.OnSuccess != nil {
		p.OnSuccess(attempt)
	}
}

func (p *InfiniteReconnect) OnReconnectFailed(int) {}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
