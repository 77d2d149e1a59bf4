package search

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/Sternrassler/leerbedrijf-search/pkg/source"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial one).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter is the relative randomization applied to each backoff (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration: attempts at
// t=0, t≈500ms and t≈1500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Validate reports an unusable retry configuration.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", c.BackoffMultiplier)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", c.Jitter)
	}
	return nil
}

// backoff returns the wait before retry number n (1-based), before jitter.
func (c RetryConfig) backoff(n int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if c.MaxBackoff > 0 && d > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

// budget returns the longest one fetch can run when every attempt uses the
// full attemptTimeout and every backoff draws the maximum jitter.
func (c RetryConfig) budget(attemptTimeout time.Duration) time.Duration {
	total := time.Duration(c.MaxAttempts) * attemptTimeout
	for n := 1; n < c.MaxAttempts; n++ {
		total += time.Duration(math.Round(float64(c.backoff(n)) * (1 + c.Jitter)))
	}
	return total
}

// jitter spreads d by ±Jitter using r in [0, 1).
func (c RetryConfig) jitter(d time.Duration, r float64) time.Duration {
	return time.Duration(float64(d) * (1 - c.Jitter + r*2*c.Jitter))
}

// fetcher runs one query against the source with retries.
type fetcher struct {
	source         source.Fetcher
	retry          RetryConfig
	attemptTimeout time.Duration
	throttle       *rate.Limiter
	logger         zerolog.Logger
	random         func() float64
}

// fetch invokes the source, retrying transient failures with exponential
// backoff. Permanent failures are returned immediately. The returned
// attempt count is the number of source invocations made.
func (f *fetcher) fetch(ctx context.Context, q query.Query) ([]source.CompanyRecord, int, error) {
	var lastErr error
	var lastClass source.ErrorClass

	for attempt := 1; attempt <= f.retry.MaxAttempts; attempt++ {
		records, err := f.attempt(ctx, q)
		if err == nil {
			searchFetchAttemptsTotal.WithLabelValues("success").Inc()
			if attempt > 1 {
				f.logger.Info().
					Str("query", q.String()).
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return records, attempt, nil
		}

		lastErr = err
		lastClass = source.Classify(err)

		if !lastClass.Transient() {
			searchFetchAttemptsTotal.WithLabelValues("permanent").Inc()
			f.logger.Warn().
				Err(err).
				Str("query", q.String()).
				Str("error_class", string(lastClass)).
				Msg("Permanent source error, not retrying")
			return nil, attempt, err
		}
		searchFetchAttemptsTotal.WithLabelValues("transient").Inc()

		if attempt >= f.retry.MaxAttempts {
			break
		}

		searchRetriesTotal.WithLabelValues(string(lastClass)).Inc()

		wait := f.retry.jitter(f.retry.backoff(attempt), f.random())
		searchRetryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(wait.Seconds())

		f.logger.Warn().
			Err(err).
			Str("query", q.String()).
			Str("error_class", string(lastClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying fetch after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	searchRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	f.logger.Error().
		Err(lastErr).
		Str("query", q.String()).
		Int("max_attempts", f.retry.MaxAttempts).
		Msg("Retry attempts exhausted")

	return nil, f.retry.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, f.retry.MaxAttempts, lastErr)
}

// attempt makes one bounded source call, waiting on the throttle first.
func (f *fetcher) attempt(ctx context.Context, q query.Query) ([]source.CompanyRecord, error) {
	actx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	if f.throttle != nil {
		if err := f.throttle.Wait(actx); err != nil {
			return nil, source.Transient(fmt.Errorf("source throttle: %w", err))
		}
	}

	records, err := f.source.Fetch(actx, q)
	if err != nil {
		// A hung source surfaces as a deadline on the attempt context.
		if actx.Err() != nil && ctx.Err() == nil {
			return nil, source.Transient(fmt.Errorf("attempt timed out after %s: %w", f.attemptTimeout, err))
		}
		return nil, err
	}
	return records, nil
}

func defaultRandom() float64 {
	return rand.Float64()
}
