package cache

import (
	"context"
	"time"

	"dev.helix.ensemble/internal/models"
)

// Store is the backing storage for cached pipeline results. Both the
// in-memory and the Redis implementations satisfy it.
type Store interface {
	Get(ctx context.Context, key string) (*models.PipelineResult, bool, error)
	Set(ctx context.Context, key string, result *models.PipelineResult) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Config holds cache behavior settings.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	// TTLByProvider overrides TTL for results whose final answer came
	// from the named provider.
	TTLByProvider map[string]time.Duration
}

// ttlFor returns the effective TTL for a result produced by provider.
func (c Config) ttlFor(provider string) time.Duration {
	if ttl, ok := c.TTLByProvider[provider]; ok && ttl > 0 {
		return ttl
	}
	return c.TTL
}

// resultProvider is the provider a cached result is attributed to.
func resultProvider(result *models.PipelineResult) string {
	if result.Synthesis != nil {
		return result.Synthesis.Provider
	}
	return result.LeadProvider
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:        30 * time.Minute,
		MaxEntries: 1000,
	}
}
