// Package ratelimit implements the per-identity, per-session and global
// admission checks that run before any search work.
//
// Identity and global scopes are fixed-window request counters. The session
// scope is a concurrency gate: it caps simultaneously outstanding searches
// and is released when a search completes, not when a window rolls over.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults for the admission checks.
const (
	DefaultWindow            = 60 * time.Second
	DefaultIdentityLimit     = 10
	DefaultSessionLimit      = 5
	DefaultGlobalLimit       = 100
	DefaultSessionRetryAfter = 1 * time.Second
)

// windowCounter is a fixed-window request counter for one (scope, identity)
// pair. All fields are guarded by mu.
type windowCounter struct {
	mu          sync.Mutex
	identity    string
	windowStart time.Time
	count       int
	limit       int

	// removed is set by the janitor; a holder of a removed counter must
	// look it up again.
	removed bool
}

// roll starts a new window once the current one has elapsed.
func (c *windowCounter) roll(now time.Time, window time.Duration) {
	if c.windowStart.IsZero() || !now.Before(c.windowStart.Add(window)) {
		c.windowStart = now
		c.count = 0
	}
}

// full reports whether another request would exceed the limit.
func (c *windowCounter) full() bool {
	return c.count >= c.limit
}

// remaining returns the time until the current window ends.
func (c *windowCounter) remaining(now time.Time, window time.Duration) time.Duration {
	d := c.windowStart.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// idle reports whether the window has elapsed, so the counter holds no state
// worth keeping.
func (c *windowCounter) idle(now time.Time, window time.Duration) bool {
	return c.windowStart.IsZero() || !now.Before(c.windowStart.Add(window))
}

// sessionGate counts the in-flight searches of one session.
type sessionGate struct {
	mu      sync.Mutex
	session string
	active  int
	limit   int
	removed bool
}

// counterSet maps identities to their counters. The map lock is only held
// for lookups and inserts; counters are locked individually.
type counterSet[T any] struct {
	mu      sync.RWMutex
	entries map[string]*T
	create  func(key string) *T
}

func newCounterSet[T any](create func(key string) *T) *counterSet[T] {
	return &counterSet[T]{
		entries: make(map[string]*T),
		create:  create,
	}
}

// get returns the entry for key, creating it if needed.
func (s *counterSet[T]) get(key string) *T {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e = s.create(key)
	s.entries[key] = e
	return e
}

// sweep deletes every entry for which drop returns true.
func (s *counterSet[T]) sweep(drop func(*T) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.entries {
		if drop(e) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *counterSet[T]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
