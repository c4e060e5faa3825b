package llm

import (
	"sync"
	"time"
)

// CircuitState represents the state of a provider's circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // how long to stay open before the half-open trial
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker is a per-provider failure-isolation state machine. While
// open, calls short-circuit with ErrCircuitOpen and no network attempt is
// made. Once the cooldown elapses a single half-open trial decides whether
// the circuit closes again (success) or reopens (failure).
type CircuitBreaker struct {
	mu                  sync.RWMutex
	providerName        string
	config              CircuitBreakerConfig
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	lastStateChange     time.Time
	halfOpenInFlight    bool
	totalRequests       int64
	totalFailures       int64
	totalSuccesses      int64
	shortCircuits       int64
}

// NewCircuitBreaker creates a circuit breaker for one provider.
func NewCircuitBreaker(providerName string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		providerName:    providerName,
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen until the cooldown elapses, at which point exactly one
// caller is admitted as the half-open trial.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.config.Cooldown {
			cb.transitionTo(CircuitHalfOpen)
			cb.halfOpenInFlight = true
			return nil
		}
		cb.shortCircuits++
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if cb.halfOpenInFlight {
			cb.shortCircuits++
			return ErrCircuitOpen
		}
		cb.halfOpenInFlight = true
		return nil
	}

	return nil
}

// Record feeds a call outcome back into the state machine.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.halfOpenInFlight = false
	}

	if err != nil {
		cb.totalFailures++
		cb.consecutiveFailures++
		cb.lastFailure = time.Now()

		switch cb.state {
		case CircuitClosed:
			if cb.consecutiveFailures >= cb.config.FailureThreshold {
				cb.transitionTo(CircuitOpen)
			}
		case CircuitHalfOpen:
			// The trial failed, back to open for another cooldown.
			cb.transitionTo(CircuitOpen)
		}
		return
	}

	cb.totalSuccesses++
	cb.consecutiveFailures = 0
	if cb.state == CircuitHalfOpen {
		cb.transitionTo(CircuitClosed)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	cb.state = newState
	cb.lastStateChange = time.Now()
	if newState == CircuitClosed {
		cb.consecutiveFailures = 0
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// CircuitBreakerStats is a point-in-time snapshot of one breaker.
type CircuitBreakerStats struct {
	ProviderName        string       `json:"provider_name"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalRequests       int64        `json:"total_requests"`
	TotalSuccesses      int64        `json:"total_successes"`
	TotalFailures       int64        `json:"total_failures"`
	ShortCircuits       int64        `json:"short_circuits"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
	LastStateChange     time.Time    `json:"last_state_change"`
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		ProviderName:        cb.providerName,
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalRequests:       cb.totalRequests,
		TotalSuccesses:      cb.totalSuccesses,
		TotalFailures:       cb.totalFailures,
		ShortCircuits:       cb.shortCircuits,
		LastFailure:         cb.lastFailure,
		LastStateChange:     cb.lastStateChange,
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.halfOpenInFlight = false
	cb.transitionTo(CircuitClosed)
}
