package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_Delays(t *testing.T) {
	p := &ExponentialBackoff{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: 30 * time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, p.Delay(attempt), "attempt %d", attempt)
	}
}

func TestExponentialBackoff_Defaults(t *testing.T) {
	p := NewExponentialBackoff()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)

	var zero ExponentialBackoff
	assert.Equal(t, 4*time.Second, zero.Delay(2), "zero value uses defaults")
	assert.True(t, zero.ShouldReconnect(4, 0))
	assert.False(t, zero.ShouldReconnect(5, 0))
}

func TestShouldReconnect_Bounds(t *testing.T) {
	const n = 3
	policies := map[string]ReconnectPolicy{
		"exponential": &ExponentialBackoff{MaxAttempts: n},
		"linear":      &LinearBackoff{MaxAttempts: n},
	}

	for name, p := range policies {
		t.Run(name, func(t *testing.T) {
			for attempt := 0; attempt < n; attempt++ {
				assert.True(t, p.ShouldReconnect(attempt, time.Hour), "attempt %d", attempt)
			}
			for attempt := n; attempt < n+3; attempt++ {
				assert.False(t, p.ShouldReconnect(attempt, 0), "attempt %d", attempt)
			}
		})
	}
}

func TestLinearBackoff_Delay(t *testing.T) {
	p := NewLinearBackoff()
	assert.Equal(t, 10, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 4*time.Second, p.Delay(1))
	assert.Equal(t, 20*time.Second, p.Delay(9))
}

func TestInfiniteReconnect(t *testing.T) {
	p := NewInfiniteReconnect()
	for _, attempt := range []int{0, 10, 1_000_000} {
		assert.True(t, p.ShouldReconnect(attempt, 24*time.Hour))
		assert.Equal(t, 5*time.Second, p.Delay(attempt))
	}
}

func TestPolicyCallbacks(t *testing.T) {
	var succeeded, failed int
	p := &LinearBackoff{
		OnSuccess: func(a int) { succeeded = a },
		OnFailure: func(a int) { failed = a },
	}
	p.OnReconnected(3)
	p.OnReconnectFailed(7)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, failed)

	// nil callbacks are optional
	NewExponentialBackoff().OnReconnected(1)
	NewExponentialBackoff().OnReconnectFailed(1)
}
