package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 50 * time.Millisecond})

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 20 * time.Millisecond})

	b.Allow()
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	assert.False(t, b.Allow(), "still inside timeout window")

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow(), "timeout elapsed, should transition to half-open and allow the trial request")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestCircuitBreakerClosesAfterSuccessThresholdInHalfOpen(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})

	b.Allow()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreakerFailureInHalfOpenReopens(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})

	b.Allow()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestRegistryReturnsSameBreakerPerName(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig())
	a := r.Get("webhook:http://x")
	b := r.Get("webhook:http://x")
	c := r.Get("webhook:http://y")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
