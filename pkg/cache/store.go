package cache

import (
	"context"
	"errors"

	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
)

var (
	// ErrCacheMiss indicates the requested query has no (fresh) entry.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNotStored indicates the backend declined to store an entry.
	ErrNotStored = errors.New("cache entry not stored")
)

// Store holds at most one entry per query.
//
// Get returns ErrCacheMiss once the entry's ExpiresAt has passed, while
// GetStale keeps returning it until the backend evicts it. Put replaces any
// previous entry for the query. Entries handed in or out are copies; a
// stored entry is never mutated in place.
type Store interface {
	Get(ctx context.Context, q query.Query) (*Entry, error)
	GetStale(ctx context.Context, q query.Query) (*Entry, error)
	Put(ctx context.Context, q query.Query, entry *Entry) error
}
