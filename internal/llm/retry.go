package llm

import (
	"context"
	"time"
)

// RetryConfig defines retry behavior for adapter calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt; the delay before
	// attempt k+1 grows as BaseDelay * 2^k.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// backoffDelay returns the delay after a failed attempt (0-based).
func (c RetryConfig) backoffDelay(attempt int) time.Duration {
	delay := c.BaseDelay << uint(attempt)
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// retry runs fn up to MaxAttempts times. Only errors the taxonomy marks
// retryable (ProviderError, RateLimitError) trigger another attempt; all
// other errors surface immediately. After exhaustion the last error
// surfaces.
func retry(ctx context.Context, config RetryConfig, fn func() error) error {
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(config.backoffDelay(attempt)):
		}
	}
	return lastErr
}
