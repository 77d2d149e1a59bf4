package cache

import (
	"slices"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/source"
)

// DefaultTTL is how long a fetched result set counts as fresh.
const DefaultTTL = 5 * time.Minute

// Source marks whether an entry is served as fresh or as a stale fallback.
type Source string

const (
	// SourceFresh marks data served within its TTL.
	SourceFresh Source = "fresh"

	// SourceStale marks data served past its TTL after a failed refresh.
	SourceStale Source = "stale"
)

// Entry represents a cached result set.
type Entry struct {
	// Results in source order, at most five.
	Results []source.CompanyRecord `json:"results"`

	// FetchedAt is when the source produced the results.
	FetchedAt time.Time `json:"fetched_at"`

	// ExpiresAt is when the entry stops being served as fresh.
	ExpiresAt time.Time `json:"expires_at"`

	// Source is the freshness marker of this copy.
	Source Source `json:"source"`
}

// NewEntry creates a fresh entry fetched at fetchedAt that expires after ttl.
func NewEntry(results []source.CompanyRecord, fetchedAt time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Results:   slices.Clone(results),
		FetchedAt: fetchedAt,
		ExpiresAt: fetchedAt.Add(ttl),
		Source:    SourceFresh,
	}
}

// IsExpired returns true if the entry has expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Clone returns a deep copy so stored entries are never mutated by readers.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Results = slices.Clone(e.Results)
	return &c
}

// AsStale returns a copy of e marked as a stale fallback. FetchedAt is kept
// so consumers can tell how old the data is.
func (e *Entry) AsStale() *Entry {
	c := e.Clone()
	c.Source = SourceStale
	return c
}
