package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/cache"
	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/panjf2000/ants/v2"
)

// DefaultWarmConcurrency is the pool size used when WarmOptions leaves it unset.
const DefaultWarmConcurrency = 4

// WarmOptions controls a cache warm-up run.
type WarmOptions struct {
	// Concurrency is the number of queries refreshed in parallel.
	Concurrency int

	// Force refreshes queries whose cache entry is still fresh.
	Force bool
}

// WarmReport summarizes a warm-up run.
type WarmReport struct {
	Fetched  int
	Skipped  int
	Failed   int
	Errors   map[string]error
	Duration time.Duration
}

// Warm refreshes the cache for queries through the same coalesced, retried
// path searches use. Client rate limits are not applied. Duplicate queries
// are refreshed once.
func (o *Orchestrator) Warm(ctx context.Context, queries []query.Query, opts WarmOptions) (WarmReport, error) {
	start := time.Now()
	report := WarmReport{Errors: make(map[string]error)}

	size := opts.Concurrency
	if size <= 0 {
		size = DefaultWarmConcurrency
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return report, err
	}
	defer pool.Release()

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[query.Query]bool, len(queries))
	)
	record := func(q query.Query, err error, skipped bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case skipped:
			report.Skipped++
		case err != nil:
			report.Failed++
			report.Errors[q.String()] = err
		default:
			report.Fetched++
		}
	}

	for _, q := range queries {
		if seen[q] {
			continue
		}
		seen[q] = true

		if ctx.Err() != nil {
			record(q, ctx.Err(), false)
			continue
		}

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			skipped, err := o.warmOne(ctx, q, opts.Force)
			record(q, err, skipped)
		})
		if submitErr != nil {
			wg.Done()
			record(q, submitErr, false)
		}
	}
	wg.Wait()

	report.Duration = time.Since(start)
	o.logger.Info().
		Int("fetched", report.Fetched).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Cache warm-up finished")
	return report, nil
}

func (o *Orchestrator) warmOne(ctx context.Context, q query.Query, force bool) (skipped bool, err error) {
	if !force {
		_, err := o.store.Get(ctx, q)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			o.logger.Warn().Err(err).Str("query", q.String()).Msg("Cache get error during warm-up")
		}
	}
	_, err = o.refresh(ctx, q)
	return false, err
}
