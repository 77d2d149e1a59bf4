package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/internal/testutil"
	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/Sternrassler/leerbedrijf-search/pkg/source"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var retryQuery = query.Query{Track: query.TrackVakbekwaamHovenier, Location: "utrecht", RadiusKm: 10}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestRetryConfig_BackoffSchedule(t *testing.T) {
	config := DefaultRetryConfig()

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 5 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := config.backoff(tt.retry); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}

	// Attempts land at t=0, t≈500ms, t≈1500ms.
	if second := config.backoff(1) + config.backoff(2); second != 1500*time.Millisecond {
		t.Errorf("third attempt at %v, want 1.5s", second)
	}
}

func TestRetryConfig_Jitter(t *testing.T) {
	config := DefaultRetryConfig()
	d := 500 * time.Millisecond

	tests := []struct {
		r    float64
		want time.Duration
	}{
		{0, 400 * time.Millisecond},
		{0.5, 500 * time.Millisecond},
		{0.999999, 600 * time.Millisecond},
	}
	for _, tt := range tests {
		got := config.jitter(d, tt.r)
		if diff := got - tt.want; diff < -time.Millisecond || diff > time.Millisecond {
			t.Errorf("jitter(%v, %v) = %v, want about %v", d, tt.r, got, tt.want)
		}
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RetryConfig)
	}{
		{"zero attempts", func(c *RetryConfig) { c.MaxAttempts = 0 }},
		{"negative backoff", func(c *RetryConfig) { c.InitialBackoff = -time.Second }},
		{"shrinking multiplier", func(c *RetryConfig) { c.BackoffMultiplier = 0.5 }},
		{"jitter too large", func(c *RetryConfig) { c.Jitter = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultRetryConfig()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func newTestFetcher(src source.Fetcher, retry RetryConfig) *fetcher {
	return &fetcher{
		source:         src,
		retry:          retry,
		attemptTimeout: time.Second,
		logger:         zerolog.Nop(),
		random:         func() float64 { return 0.5 },
	}
}

func fastRetry() RetryConfig {
	c := DefaultRetryConfig()
	c.InitialBackoff = time.Millisecond
	return c
}

func TestFetch_SuccessFirstAttempt(t *testing.T) {
	stub := testutil.NewStubFetcher(testutil.FetchStep{Records: testutil.Companies(2)})
	f := newTestFetcher(stub, fastRetry())

	records, attempts, err := f.fetch(context.Background(), retryQuery)
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if len(records) != 2 || attempts != 1 {
		t.Errorf("fetch() = %d records in %d attempts, want 2 in 1", len(records), attempts)
	}
}

func TestFetch_ClassifiedRetries(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantAttempts int
		wantRetried  bool
	}{
		{"server error retried", &source.Error{Class: source.ErrorClassServer, StatusCode: 503}, 3, true},
		{"rate limit retried", &source.Error{Class: source.ErrorClassRateLimit, StatusCode: 429}, 3, true},
		{"network retried", source.Transient(errors.New("dial tcp: refused")), 3, true},
		{"deadline retried", context.DeadlineExceeded, 3, true},
		{"client error not retried", &source.Error{Class: source.ErrorClassClient, StatusCode: 404}, 1, false},
		{"malformed not retried", source.Permanent(errors.New("missing companies")), 1, false},
		{"unclassified not retried", errors.New("mystery"), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := testutil.NewStubFetcher(testutil.FetchStep{Err: tt.err})
			f := newTestFetcher(stub, fastRetry())

			_, attempts, err := f.fetch(context.Background(), retryQuery)
			if err == nil {
				t.Fatal("fetch() should fail")
			}
			if attempts != tt.wantAttempts || stub.Calls() != tt.wantAttempts {
				t.Errorf("attempts = %d (calls %d), want %d", attempts, stub.Calls(), tt.wantAttempts)
			}
			if got := errors.Is(err, ErrRetryExhausted); got != tt.wantRetried {
				t.Errorf("errors.Is(err, ErrRetryExhausted) = %v, want %v", got, tt.wantRetried)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("error %v does not wrap the source error", err)
			}
		})
	}
}

func TestFetch_ContextCancelledDuringBackoff(t *testing.T) {
	stub := testutil.NewStubFetcher(testutil.FetchStep{Err: source.Transient(errors.New("reset"))})
	retry := DefaultRetryConfig()
	retry.InitialBackoff = time.Minute
	f := newTestFetcher(stub, retry)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := f.fetch(ctx, retryQuery)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("fetch() error = %v, want ErrContextCancelled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("fetch() did not return promptly on cancellation")
	}
	if stub.Calls() != 1 {
		t.Errorf("calls = %d, want 1", stub.Calls())
	}
}

func TestFetch_SourceThrottle(t *testing.T) {
	stub := testutil.NewStubFetcher(
		testutil.FetchStep{Err: source.Transient(errors.New("reset"))},
		testutil.FetchStep{Err: source.Transient(errors.New("reset"))},
		testutil.FetchStep{Records: testutil.Companies(1)},
	)
	f := newTestFetcher(stub, fastRetry())
	f.throttle = rate.NewLimiter(rate.Limit(20), 1)

	start := time.Now()
	if _, _, err := f.fetch(context.Background(), retryQuery); err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	// Two attempts after the first token each wait about 50ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("fetch() took %v, want throttled attempts (>= 80ms)", elapsed)
	}
}

func TestFetch_ThrottleWaitBeyondAttemptTimeout(t *testing.T) {
	stub := testutil.NewStubFetcher(testutil.FetchStep{Records: testutil.Companies(1)})
	retry := fastRetry()
	retry.MaxAttempts = 1
	f := newTestFetcher(stub, retry)
	f.attemptTimeout = 10 * time.Millisecond
	f.throttle = rate.NewLimiter(rate.Limit(0.01), 1)
	f.throttle.Allow() // drain the only token

	_, _, err := f.fetch(context.Background(), retryQuery)
	if err == nil {
		t.Fatal("fetch() should fail when the throttle cannot admit within the attempt timeout")
	}
	if !source.IsTransient(err) || !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("fetch() error = %v, want a transient throttle failure", err)
	}
	if stub.Calls() != 0 {
		t.Errorf("source called %d times, want 0", stub.Calls())
	}
}

func TestRetryConfig_Budget(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RetryConfig)
		timeout time.Duration
		want    time.Duration
	}{
		// 3 x 15s + (500ms + 1s) x 1.2
		{"defaults", func(*RetryConfig) {}, 15 * time.Second, 46800 * time.Millisecond},
		{"single attempt has no backoff", func(c *RetryConfig) { c.MaxAttempts = 1 }, 15 * time.Second, 15 * time.Second},
		{"no jitter", func(c *RetryConfig) { c.Jitter = 0 }, time.Second, 4500 * time.Millisecond},
		{"capped backoff", func(c *RetryConfig) { c.MaxAttempts = 4; c.Jitter = 0; c.MaxBackoff = time.Second }, time.Second, 6500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetryConfig()
			tt.mutate(&cfg)
			if got := cfg.budget(tt.timeout); got != tt.want {
				t.Errorf("budget(%v) = %v, want %v", tt.timeout, got, tt.want)
			}
		})
	}
}
