package llm

import (
	"context"

	"dev.helix.ensemble/internal/models"
)

// Provider is the uniform call contract over one LLM backend. Adapters do
// network I/O only: no retries, no caching, no rate limiting. Those concerns
// are composed around the adapter by the resilience executor and the
// admission controller.
type Provider interface {
	Name() string
	Priority() int
	Generate(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error)
	HealthCheck(ctx context.Context) error
	Capabilities() *models.ProviderCapabilities
}
