package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/Sternrassler/leerbedrijf-search/pkg/source"
)

// FetchStep is one scripted Fetcher outcome.
type FetchStep struct {
	Records []source.CompanyRecord
	Err     error
}

// StubFetcher is a scripted source.Fetcher that counts invocations.
// Steps are consumed in order; the last one repeats.
type StubFetcher struct {
	mu    sync.Mutex
	steps []FetchStep
	calls atomic.Int64

	// Delay holds every call for the given duration (ctx-aware).
	Delay time.Duration

	// Gate, when set, blocks every call until it is closed.
	Gate chan struct{}

	// Started receives the query each time a call begins, if non-nil.
	Started chan query.Query
}

// NewStubFetcher creates a fetcher serving the given steps.
func NewStubFetcher(steps ...FetchStep) *StubFetcher {
	return &StubFetcher{steps: steps}
}

// Fetch implements source.Fetcher.
func (f *StubFetcher) Fetch(ctx context.Context, q query.Query) ([]source.CompanyRecord, error) {
	f.calls.Add(1)
	if f.Started != nil {
		select {
		case f.Started <- q:
		default:
		}
	}

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, source.Transient(ctx.Err())
		}
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, source.Transient(ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.steps) == 0 {
		return nil, nil
	}
	step := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return step.Records, step.Err
}

// Calls returns the number of Fetch invocations.
func (f *StubFetcher) Calls() int {
	return int(f.calls.Load())
}

// Script replaces the remaining steps.
func (f *StubFetcher) Script(steps ...FetchStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = steps
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current synthetic time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
