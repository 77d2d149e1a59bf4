// Package search composes validation, rate limiting, the result cache and
// coalesced, retried source fetches into a single Search call with a typed
// outcome.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/cache"
	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/Sternrassler/leerbedrijf-search/pkg/ratelimit"
	"github.com/Sternrassler/leerbedrijf-search/pkg/singleflight"
	"github.com/Sternrassler/leerbedrijf-search/pkg/source"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// MaxResults is the most records a search ever returns.
const MaxResults = 5

// staleLookupTimeout bounds the fallback read after a failed fetch, which
// may run after the caller's own context has ended.
const staleLookupTimeout = 2 * time.Second

// Config holds the orchestrator configuration.
type Config struct {
	// Retry controls attempts and backoff against the source.
	Retry RetryConfig

	// FetchTimeout bounds every single source attempt.
	FetchTimeout time.Duration

	// RequestTimeout bounds a whole Search call. It must exceed the retry
	// budget: MaxAttempts times FetchTimeout plus the backoff between them.
	RequestTimeout time.Duration

	// CacheTTL is how long fetched results are served as fresh.
	CacheTTL time.Duration

	// SourceRPS paces outbound source attempts process-wide. Zero disables.
	SourceRPS float64

	// SourceBurst is the token bucket size for SourceRPS.
	SourceBurst int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Retry:          DefaultRetryConfig(),
		FetchTimeout:   15 * time.Second,
		RequestTimeout: 60 * time.Second,
		CacheTTL:       cache.DefaultTTL,
		SourceRPS:      0,
		SourceBurst:    1,
	}
}

// Validate reports a configuration the orchestrator cannot run with.
func (c Config) Validate() error {
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive (got %v)", c.FetchTimeout)
	}
	if budget := c.Retry.budget(c.FetchTimeout); c.RequestTimeout <= budget {
		return fmt.Errorf("request_timeout (%v) must exceed the retry budget of %v (%d attempts of fetch_timeout %v plus backoff)",
			c.RequestTimeout, budget, c.Retry.MaxAttempts, c.FetchTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive (got %v)", c.CacheTTL)
	}
	if c.SourceRPS < 0 {
		return fmt.Errorf("source_rps must not be negative (got %v)", c.SourceRPS)
	}
	if c.SourceRPS > 0 && c.SourceBurst < 1 {
		return fmt.Errorf("source_burst must be >= 1 when source_rps is set (got %d)", c.SourceBurst)
	}
	return nil
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source used for cache timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithRandom overrides the jitter source; r must return values in [0, 1).
func WithRandom(r func() float64) Option {
	return func(o *Orchestrator) {
		o.fetcher.random = r
	}
}

// Orchestrator is the public search entry point.
type Orchestrator struct {
	cfg     Config
	store   cache.Store
	limiter *ratelimit.Limiter
	flights *singleflight.Group[*cache.Entry]
	fetcher *fetcher
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, src source.Fetcher, store cache.Store, limiter *ratelimit.Limiter, logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	if src == nil {
		return nil, fmt.Errorf("source fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &fetcher{
		source:         src,
		retry:          cfg.Retry,
		attemptTimeout: cfg.FetchTimeout,
		logger:         logger,
		random:         defaultRandom,
	}
	if cfg.SourceRPS > 0 {
		f.throttle = rate.NewLimiter(rate.Limit(cfg.SourceRPS), cfg.SourceBurst)
	}

	o := &Orchestrator{
		cfg:     cfg,
		store:   store,
		limiter: limiter,
		flights: singleflight.New[*cache.Entry](logger),
		fetcher: f,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Search runs one search for criteria on behalf of id.
func (o *Orchestrator) Search(ctx context.Context, criteria query.Criteria, id ratelimit.Identity) Result {
	start := time.Now()
	res := o.search(ctx, criteria, id)
	searchRequestDuration.Observe(time.Since(start).Seconds())
	searchRequestsTotal.WithLabelValues(string(res.Status), string(res.Source), string(res.Code)).Inc()
	return res
}

func (o *Orchestrator) search(ctx context.Context, criteria query.Criteria, id ratelimit.Identity) Result {
	q, err := query.New(criteria)
	if err != nil {
		o.logger.Debug().Err(err).Msg("Rejected invalid search criteria")
		res := errorResult(CodeValidationError, err)
		res.Message = err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	// RATE_CHECK
	permit, err := o.limiter.TryAcquire(id)
	if err != nil {
		res := errorResult(CodeRateLimitExceeded, err)
		var le *ratelimit.LimitError
		if errors.As(err, &le) {
			res.RetryAfterSeconds = le.RetryAfterSeconds()
		}
		return res
	}
	defer permit.Release()

	// CACHE_LOOKUP
	entry, err := o.store.Get(ctx, q)
	switch {
	case err == nil:
		// Fresh hits do not spend the global budget.
		permit.RefundGlobal()
		o.logger.Debug().Str("query", q.String()).Msg("Cache hit")
		return entryResult(entry)
	case !errors.Is(err, cache.ErrCacheMiss):
		o.logger.Warn().Err(err).Str("query", q.String()).Msg("Cache get error")
	}

	// FETCH_PENDING
	entry, err = o.refresh(ctx, q)
	if err == nil {
		return entryResult(entry)
	}

	return o.fallback(ctx, q, err)
}

// refresh fetches q through the single-flight group so concurrent identical
// searches share one source call.
func (o *Orchestrator) refresh(ctx context.Context, q query.Query) (*cache.Entry, error) {
	entry, shared, err := o.flights.Do(ctx, q.String(), func(ctx context.Context) (*cache.Entry, error) {
		return o.fetchAndStore(ctx, q)
	})
	if shared {
		o.logger.Debug().Str("query", q.String()).Bool("ok", err == nil).Msg("Joined in-flight fetch")
	}
	if err != nil {
		return nil, err
	}
	// Every sharer gets its own copy.
	return entry.Clone(), nil
}

// fetchAndStore is the shared call: retried fetch, truncation, write-through.
func (o *Orchestrator) fetchAndStore(ctx context.Context, q query.Query) (*cache.Entry, error) {
	records, attempts, err := o.fetcher.fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if len(records) > MaxResults {
		records = records[:MaxResults]
	}

	entry := cache.NewEntry(records, o.now(), o.cfg.CacheTTL)
	if err := o.store.Put(ctx, q, entry); err != nil {
		o.logger.Warn().Err(err).Str("query", q.String()).Msg("Failed to cache results")
	}

	o.logger.Info().
		Str("query", q.String()).
		Int("results", len(records)).
		Int("attempts", attempts).
		Msg("Fetched results from source")
	return entry, nil
}

// fallback serves the last known entry for q after a failed fetch, or
// SOURCE_UNAVAILABLE if there is none.
func (o *Orchestrator) fallback(ctx context.Context, q query.Query, fetchErr error) Result {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), staleLookupTimeout)
	defer cancel()

	entry, err := o.store.GetStale(sctx, q)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			o.logger.Warn().Err(err).Str("query", q.String()).Msg("Stale cache read error")
		}
		o.logger.Error().Err(fetchErr).Str("query", q.String()).Msg("Source unavailable and no cached results")
		if !errors.Is(fetchErr, ErrSourceUnavailable) {
			fetchErr = fmt.Errorf("%w: %w", ErrSourceUnavailable, fetchErr)
		}
		return errorResult(CodeSourceUnavailable, fetchErr)
	}

	// Written by another instance since our lookup: still within TTL.
	if !entry.IsExpired(o.now()) {
		return entryResult(entry)
	}

	searchStaleFallbacksTotal.Inc()
	o.logger.Warn().
		Err(fetchErr).
		Str("query", q.String()).
		Time("fetched_at", entry.FetchedAt).
		Msg("Serving stale results after source failure")
	return entryResult(entry.AsStale())
}
