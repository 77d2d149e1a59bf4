package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/dgraph-io/ristretto/v2"
)

// DefaultMaxEntries bounds the in-memory store.
const DefaultMaxEntries = 10000

const backendMemory = "memory"

// MemoryStore is a bounded in-process Store on top of ristretto.
//
// Entries carry no ristretto TTL: they stay available to GetStale until
// they are overwritten or evicted by the cost bound (one unit per entry).
// Ristretto shards its locks by key hash, so unrelated queries never
// contend on a single mutex.
type MemoryStore struct {
	cache *ristretto.Cache[string, *Entry]
	now   func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the time source used for freshness checks.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store holding at most maxEntries queries.
func NewMemoryStore(maxEntries int, opts ...MemoryOption) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, *Entry]{
		NumCounters:        int64(maxEntries) * 10,
		MaxCost:            int64(maxEntries),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	s := &MemoryStore{cache: c, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the fresh entry for q or ErrCacheMiss.
func (s *MemoryStore) Get(_ context.Context, q query.Query) (*Entry, error) {
	entry, ok := s.cache.Get(q.String())
	if !ok || entry.IsExpired(s.now()) {
		CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendMemory).Inc()
	return entry.Clone(), nil
}

// GetStale returns the entry for q regardless of expiry.
func (s *MemoryStore) GetStale(_ context.Context, q query.Query) (*Entry, error) {
	entry, ok := s.cache.Get(q.String())
	if !ok {
		return nil, ErrCacheMiss
	}

	StaleReads.WithLabelValues(backendMemory).Inc()
	return entry.Clone(), nil
}

// Put stores a copy of entry, replacing any previous entry for q.
// The write is applied before Put returns.
func (s *MemoryStore) Put(_ context.Context, q query.Query, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	if !s.cache.Set(q.String(), entry.Clone(), 1) {
		CacheErrors.WithLabelValues("put").Inc()
		return ErrNotStored
	}
	s.cache.Wait()
	return nil
}

// Close stops ristretto's background goroutines.
func (s *MemoryStore) Close() {
	s.cache.Close()
}
