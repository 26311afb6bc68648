package escalation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDelivery = errors.New("delivery failed")

func fail() error    { return errDelivery }
func succeed() error { return nil }

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "oncall",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		MaxTimeout:       time.Minute,
		Now:              clock.Now,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	assert.ErrorIs(t, cb.Call(fail), errDelivery)
	assert.Equal(t, CircuitClosed, cb.GetState())

	assert.ErrorIs(t, cb.Call(fail), errDelivery)
	assert.Equal(t, CircuitOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	// open timeout grows with consecutive failures
	assert.Equal(t, 20*time.Second, cb.GetStats().Timeout)
	clock.Advance(21 * time.Second)

	require.NoError(t, cb.Call(succeed))
	assert.Equal(t, CircuitHalfOpen, cb.GetState())
	require.NoError(t, cb.Call(succeed))
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.Equal(t, 10*time.Second, cb.GetStats().Timeout)

	assert.Equal(t, []string{
		"oncall:CLOSED->OPEN",
		"oncall:OPEN->HALF_OPEN",
		"oncall:HALF_OPEN->CLOSED",
	}, transitions)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "oncall",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		MaxTimeout:       2500 * time.Millisecond,
		Now:              clock.Now,
	})

	_ = cb.Call(fail)
	require.Equal(t, CircuitOpen, cb.GetState())

	clock.Advance(2 * time.Second)
	_ = cb.Call(fail)
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.Equal(t, 2*time.Second, cb.GetStats().Timeout)

	clock.Advance(3 * time.Second)
	_ = cb.Call(fail)
	assert.Equal(t, 2500*time.Millisecond, cb.GetStats().Timeout, "timeout is capped")
}

func TestCircuitBreaker_StatsAndReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "oncall",
		FailureThreshold: 1,
		Timeout:          time.Minute,
	})

	require.NoError(t, cb.Call(succeed))
	_ = cb.Call(fail)
	_ = cb.Call(succeed) // rejected while open

	stats := cb.GetStats()
	assert.Equal(t, "oncall", stats.Name)
	assert.Equal(t, "OPEN", stats.State)
	assert.True(t, stats.IsOpen)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.GetState())
	assert.Equal(t, time.Minute, cb.GetStats().Timeout)
	assert.NoError(t, cb.Call(succeed))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", CircuitClosed.String())
	assert.Equal(t, "OPEN", CircuitOpen.String())
	assert.Equal(t, "HALF_OPEN", CircuitHalfOpen.String())
	assert.Equal(t, "UNKNOWN", CircuitState(9).String())
}
