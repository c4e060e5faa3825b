package llm

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when a provider's circuit breaker rejects a
// call without attempting the network. It is never retried and never
// surfaced to the caller directly; the pipeline treats it as a degraded
// provider within a stage.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ProviderError is a transient upstream failure (transport error, 5xx).
// It is retryable.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimitError is provider-side throttling (429). It is retryable with
// backoff and distinct from local admission rejection.
type RateLimitError struct {
	Provider   string
	RetryAfter int // seconds, 0 when the vendor did not say
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider %s: rate limited", e.Provider)
}

// ConfigurationError means a provider is missing required setup. It is
// fatal at registration and never retried.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %s: configuration error: %s", e.Provider, e.Reason)
}

// IsRetryable reports whether the resilience executor may retry the call.
// Only transient upstream failures and vendor throttling qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return true
	}
	var rle *RateLimitError
	return errors.As(err, &rle)
}
