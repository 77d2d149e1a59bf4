package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
	"github.com/redis/go-redis/v9"
)

// DefaultStaleRetention is how long Redis keeps an entry for stale reads.
const DefaultStaleRetention = 24 * time.Hour

const backendRedis = "redis"

// RedisStore is a Store shared between service instances.
//
// Entries are JSON encoded and kept by Redis for the stale retention
// period; freshness is decided from ExpiresAt, not from the Redis TTL.
type RedisStore struct {
	redis     *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "leerbedrijf").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithStaleRetention sets how long entries stay readable via GetStale.
func WithStaleRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retention = d }
}

// WithRedisClock sets the time source used for freshness checks.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

// NewRedisStore creates a new cache store with Redis backend.
func NewRedisStore(redisClient *redis.Client, opts ...RedisOption) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	s := &RedisStore{
		redis:     redisClient,
		prefix:    "leerbedrijf",
		retention: DefaultStaleRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(q query.Query) string {
	return s.prefix + ":" + q.String()
}

// load reads and decodes the entry for q.
func (s *RedisStore) load(ctx context.Context, q query.Query) (*Entry, error) {
	data, err := s.redis.Get(ctx, s.key(q)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Get retrieves the fresh entry for q.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (s *RedisStore) Get(ctx context.Context, q query.Query) (*Entry, error) {
	entry, err := s.load(ctx, q)
	if err == ErrCacheMiss || (err == nil && entry.IsExpired(s.now())) {
		CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	CacheHits.WithLabelValues(backendRedis).Inc()
	return entry, nil
}

// GetStale retrieves the entry for q even if it is past ExpiresAt.
func (s *RedisStore) GetStale(ctx context.Context, q query.Query) (*Entry, error) {
	entry, err := s.load(ctx, q)
	if err != nil {
		return nil, err
	}

	StaleReads.WithLabelValues(backendRedis).Inc()
	return entry, nil
}

// Put stores entry for q. Redis keeps it for the stale retention period,
// or for the entry's own TTL if that is longer.
func (s *RedisStore) Put(ctx context.Context, q query.Query, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	keep := max(s.retention, entry.TTL(s.now()))
	if keep <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, s.key(q), data, keep).Err(); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the entry for q.
func (s *RedisStore) Delete(ctx context.Context, q query.Query) error {
	if err := s.redis.Del(ctx, s.key(q)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
