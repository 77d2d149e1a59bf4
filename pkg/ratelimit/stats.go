package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event is one admission decision. Scope is empty for admitted requests.
type Event struct {
	Scope   Scope
	Allowed bool
	At      time.Time
}

// Recorder receives admission decisions for reporting.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// RedisStats aggregates admission decisions in Redis hashes so that several
// instances can share one view:
//
//	<prefix>:total                 allowed/denied, cumulative
//	<prefix>:minute:YYYYMMDDHHMM   allowed/denied per minute, expires
//	<prefix>:scope                 denied count per scope
type RedisStats struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// StatsOption configures RedisStats.
type StatsOption func(*RedisStats)

// WithStatsPrefix sets the key prefix (default "leerbedrijf:ratelimit").
func WithStatsPrefix(prefix string) StatsOption {
	return func(s *RedisStats) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithStatsTTL sets the expiry of the per-minute buckets (default 24h).
func WithStatsTTL(d time.Duration) StatsOption {
	return func(s *RedisStats) {
		s.ttl = d
	}
}

// NewRedisStats creates a Redis backed Recorder.
func NewRedisStats(client *redis.Client, opts ...StatsOption) *RedisStats {
	if client == nil {
		panic("ratelimit: redis client is required")
	}
	s := &RedisStats{
		redis:  client,
		prefix: "leerbedrijf:ratelimit",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements Recorder.
func (s *RedisStats) Record(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucket := s.minuteKey(at)
	pipe.HIncrBy(ctx, bucket, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucket, s.ttl)
	}

	if !ev.Allowed && ev.Scope != "" {
		pipe.HIncrBy(ctx, s.prefix+":scope", string(ev.Scope), 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit event: %w", err)
	}
	return nil
}

// Totals returns the cumulative allowed and denied counts.
func (s *RedisStats) Totals(ctx context.Context) (allowed, denied int64, err error) {
	vals, err := s.redis.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read rate limit totals: %w", err)
	}
	allowed, _ = strconv.ParseInt(vals["allowed"], 10, 64)
	denied, _ = strconv.ParseInt(vals["denied"], 10, 64)
	return allowed, denied, nil
}

// DeniedByScope returns the cumulative denied count per scope.
func (s *RedisStats) DeniedByScope(ctx context.Context) (map[Scope]int64, error) {
	vals, err := s.redis.HGetAll(ctx, s.prefix+":scope").Result()
	if err != nil {
		return nil, fmt.Errorf("read rate limit scopes: %w", err)
	}
	out := make(map[Scope]int64, len(vals))
	for k, v := range vals {
		n, _ := strconv.ParseInt(v, 10, 64)
		out[Scope(k)] = n
	}
	return out, nil
}

func (s *RedisStats) minuteKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

// AsyncRecorder decouples admission from a slow Recorder. Record never
// blocks; events that do not fit in the queue are dropped and counted.
type AsyncRecorder struct {
	next    Recorder
	events  chan Event
	timeout time.Duration
	logger  zerolog.Logger
	dropped atomic.Int64
}

// NewAsyncRecorder creates an AsyncRecorder with a queue of size buffer.
// Run must be started for events to reach next.
func NewAsyncRecorder(next Recorder, buffer int, logger zerolog.Logger) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AsyncRecorder{
		next:    next,
		events:  make(chan Event, buffer),
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Record implements Recorder.
func (a *AsyncRecorder) Record(_ context.Context, ev Event) error {
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
		StatsDropped.Inc()
	}
	return nil
}

// Dropped returns the number of events dropped so far.
func (a *AsyncRecorder) Dropped() int64 {
	return a.dropped.Load()
}

// Run forwards queued events until ctx is done.
func (a *AsyncRecorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			rctx, cancel := context.WithTimeout(ctx, a.timeout)
			if err := a.next.Record(rctx, ev); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to record rate limit stats")
			}
			cancel()
		}
	}
}
