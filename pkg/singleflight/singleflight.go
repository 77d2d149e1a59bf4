// Package singleflight coalesces concurrent calls for the same key into one
// execution whose outcome every caller shares.
//
// Unlike golang.org/x/sync/singleflight, callers wait with a context and can
// detach without cancelling the shared call, and the group tracks how many
// callers are attached to each call.
package singleflight

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// call is an in-flight execution. val and err are written once, before done
// is closed.
type call[T any] struct {
	done     chan struct{}
	val      T
	err      error
	attached int
}

// Group manages in-flight calls keyed by string.
type Group[T any] struct {
	mu     sync.Mutex
	m      map[string]*call[T]
	logger zerolog.Logger
}

// New creates a Group.
func New[T any](logger zerolog.Logger) *Group[T] {
	return &Group[T]{
		m:      make(map[string]*call[T]),
		logger: logger,
	}
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call. shared reports whether the caller joined an
// existing call.
//
// fn runs detached from ctx cancellation (values are kept). If ctx ends
// before the call resolves the caller detaches and gets ctx.Err(); the call
// keeps running for the remaining callers.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	g.mu.Lock()
	c, ok := g.m[key]
	if ok {
		c.attached++
		g.mu.Unlock()
		Calls.WithLabelValues("waiter").Inc()
		g.logger.Debug().Str("key", key).Msg("Joined in-flight call")
	} else {
		c = &call[T]{done: make(chan struct{}), attached: 1}
		g.m[key] = c
		g.mu.Unlock()
		Calls.WithLabelValues("initiator").Inc()
		go g.run(context.WithoutCancel(ctx), key, c, fn)
	}

	select {
	case <-c.done:
		return c.val, ok, c.err
	case <-ctx.Done():
		g.detach(key, c)
		var zero T
		return zero, ok, ctx.Err()
	}
}

func (g *Group[T]) run(ctx context.Context, key string, c *call[T], fn func(context.Context) (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("%w: %v", ErrPanic, r)
			g.logger.Error().Str("key", key).Interface("panic", r).Msg("Shared call panicked")
		}

		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		waiters := c.attached
		g.mu.Unlock()

		close(c.done)
		g.logger.Debug().Str("key", key).Int("waiters", waiters).Msg("Shared call resolved")
	}()

	c.val, c.err = fn(ctx)
}

func (g *Group[T]) detach(key string, c *call[T]) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.m[key] == c && c.attached > 0 {
		c.attached--
	}
	Calls.WithLabelValues("detached").Inc()
}

// InFlight reports whether a call for key is currently running.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// Attached returns the number of callers waiting on the in-flight call for
// key, or 0 if there is none.
func (g *Group[T]) Attached(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.attached
	}
	return 0
}
