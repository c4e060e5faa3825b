package cache

import (
	"context"
	"sync"
	"time"

	"dev.helix.ensemble/internal/models"
)

type memoryEntry struct {
	value      *models.PipelineResult
	insertedAt time.Time
	expiresAt  time.Time
}

// MemoryStore is a process-local TTL cache. One mutex serializes access;
// entries expire lazily on read and the single oldest entry is evicted when
// the store is at capacity. Bounded memory, not strict LRU.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	config  Config
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(config Config) *MemoryStore {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		config:  config,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*models.PipelineResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, result *models.PipelineResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.config.MaxEntries {
		s.evictOldestLocked()
	}
	now := s.now()
	s.entries[key] = memoryEntry{
		value:      result,
		insertedAt: now,
		expiresAt:  now.Add(s.config.ttlFor(resultProvider(result))),
	}
	return nil
}

// evictOldestLocked removes the entry with the earliest insertion time.
func (s *MemoryStore) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, entry := range s.entries {
		if first || entry.insertedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.insertedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Close() error { return nil }
