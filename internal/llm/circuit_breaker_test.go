package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultCircuitBreakerConfig())

	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	for i := 0; i < 3; i++ {
		assert.NoError(t, cb.Allow())
		cb.Record(errors.New("boom"))
	}

	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})

	cb.Record(errors.New("boom"))
	cb.Record(errors.New("boom"))
	cb.Record(nil)
	cb.Record(errors.New("boom"))
	cb.Record(errors.New("boom"))

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
	})

	cb.Record(errors.New("boom"))
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)

	// Exactly one trial is admitted; a second concurrent caller is rejected.
	assert.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         5 * time.Millisecond,
	})

	cb.Record(errors.New("boom"))
	time.Sleep(10 * time.Millisecond)

	assert.NoError(t, cb.Allow())
	cb.Record(nil)

	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
	})

	cb.Record(errors.New("boom"))
	// Force the cooldown to look elapsed.
	cb.mu.Lock()
	cb.lastFailure = time.Now().Add(-2 * time.Minute)
	cb.mu.Unlock()

	assert.NoError(t, cb.Allow())
	cb.Record(errors.New("still broken"))

	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker("claude", CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
	})

	assert.NoError(t, cb.Allow())
	cb.Record(nil)
	assert.NoError(t, cb.Allow())
	cb.Record(errors.New("boom"))
	assert.NoError(t, cb.Allow())
	cb.Record(errors.New("boom"))
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	stats := cb.Stats()
	assert.Equal(t, "claude", stats.ProviderName)
	assert.Equal(t, CircuitOpen, stats.State)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(2), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.ShortCircuits)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
	})

	cb.Record(errors.New("boom"))
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}
