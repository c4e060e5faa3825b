package llm

import (
	"context"

	"go.uber.org/zap"

	"dev.helix.ensemble/internal/models"
)

// ResilientProvider composes the circuit breaker and retry executor around
// a raw adapter: CircuitBreaker -> Retry -> Adapter. The breaker is
// consulted before every attempt, so a circuit that opens mid-retry stops
// the remaining attempts from reaching the adapter.
type ResilientProvider struct {
	provider Provider
	breaker  *CircuitBreaker
	retry    RetryConfig
	logger   *zap.Logger
}

// NewResilientProvider wraps a provider with resilience concerns.
func NewResilientProvider(provider Provider, breaker *CircuitBreaker, retry RetryConfig, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientProvider{
		provider: provider,
		breaker:  breaker,
		retry:    retry,
		logger:   logger,
	}
}

func (r *ResilientProvider) Name() string  { return r.provider.Name() }
func (r *ResilientProvider) Priority() int { return r.provider.Priority() }

// Generate runs the wrapped adapter through the breaker and retry loop.
// Each attempt asks the breaker for admission and feeds its outcome back,
// so a provider that recovers mid-retry resets its failure streak and a
// circuit that trips mid-retry short-circuits the remaining attempts.
// ErrCircuitOpen is not retryable, so it surfaces straight away.
func (r *ResilientProvider) Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	var resp *models.GenerateResponse
	err := retry(ctx, r.retry, func() error {
		if err := r.breaker.Allow(); err != nil {
			r.logger.Debug("call short-circuited",
				zap.String("provider", r.provider.Name()))
			return err
		}

		var attemptErr error
		resp, attemptErr = r.provider.Generate(ctx, req)
		r.breaker.Record(attemptErr)
		if attemptErr != nil {
			r.logger.Warn("provider call failed",
				zap.String("provider", r.provider.Name()),
				zap.Error(attemptErr))
		}
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *ResilientProvider) HealthCheck(ctx context.Context) error {
	return r.provider.HealthCheck(ctx)
}

func (r *ResilientProvider) Capabilities() *models.ProviderCapabilities {
	return r.provider.Capabilities()
}

// Breaker exposes the underlying circuit breaker for status reporting.
func (r *ResilientProvider) Breaker() *CircuitBreaker { return r.breaker }
