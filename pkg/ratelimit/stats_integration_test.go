//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}
	return client, cleanup
}

func TestRedisStats_Integration_Record(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	stats := NewRedisStats(client, WithStatsPrefix("test:rl"), WithStatsTTL(time.Hour))
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	events := []Event{
		{Allowed: true, At: at},
		{Allowed: true, At: at},
		{Scope: ScopeIdentity, At: at},
		{Scope: ScopeSession, At: at},
		{Scope: ScopeSession, At: at},
	}
	for _, ev := range events {
		if err := stats.Record(ctx, ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	allowed, denied, err := stats.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if allowed != 2 || denied != 3 {
		t.Errorf("Totals() = %d/%d, want 2/3", allowed, denied)
	}

	scopes, err := stats.DeniedByScope(ctx)
	if err != nil {
		t.Fatalf("DeniedByScope() error = %v", err)
	}
	if scopes[ScopeIdentity] != 1 || scopes[ScopeSession] != 2 || scopes[ScopeGlobal] != 0 {
		t.Errorf("DeniedByScope() = %v", scopes)
	}

	ttl, err := client.TTL(ctx, "test:rl:minute:202603011230").Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("minute bucket TTL = %v, want within 1h", ttl)
	}
}

func TestRedisStats_Integration_ThroughLimiter(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := NewRedisStats(client)
	async := NewAsyncRecorder(stats, 16, zerolog.Nop())
	go async.Run(ctx)

	cfg := DefaultConfig()
	cfg.IdentityLimit = 2
	l, err := New(cfg, zerolog.Nop(), WithRecorder(async))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if p, err := l.TryAcquire(Identity{ClientID: "it"}); err == nil {
			p.Release()
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		allowed, denied, err := stats.Totals(ctx)
		if err != nil {
			t.Fatalf("Totals() error = %v", err)
		}
		if allowed == 2 && denied == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Totals() = %d/%d, want 2/1", allowed, denied)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
