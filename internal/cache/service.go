package cache

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"dev.helix.ensemble/internal/models"
)

// Service fronts a Store with the pipeline's error policy: storage errors
// are logged and treated as a miss, never propagated to the caller.
type Service struct {
	store  Store
	logger *zap.Logger
	hits   int64
	misses int64
	errs   int64
}

// NewService creates a cache service over the given store.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Get returns the cached result for a fingerprint, or nil on miss. A
// storage error counts as a miss.
func (s *Service) Get(ctx context.Context, fingerprint string) *models.PipelineResult {
	result, found, err := s.store.Get(ctx, fingerprint)
	if err != nil {
		atomic.AddInt64(&s.errs, 1)
		s.logger.Warn("cache read failed, treating as miss",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		return nil
	}
	if !found {
		atomic.AddInt64(&s.misses, 1)
		return nil
	}
	atomic.AddInt64(&s.hits, 1)
	return result
}

// Set stores a result under its fingerprint. Storage errors are logged and
// swallowed.
func (s *Service) Set(ctx context.Context, fingerprint string, result *models.PipelineResult) {
	if err := s.store.Set(ctx, fingerprint, result); err != nil {
		atomic.AddInt64(&s.errs, 1)
		s.logger.Warn("cache write failed",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
	}
}

// Stats reports hit/miss/error counters since startup.
func (s *Service) Stats() (hits, misses, errors int64) {
	return atomic.LoadInt64(&s.hits), atomic.LoadInt64(&s.misses), atomic.LoadInt64(&s.errs)
}

// Close releases the underlying store.
func (s *Service) Close() error { return s.store.Close() }
