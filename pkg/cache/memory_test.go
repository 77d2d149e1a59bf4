package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/internal/testutil"
	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
)

var testQuery = query.Query{Track: query.TrackMedewerkerHovenier, Location: "amsterdam", RadiusKm: 25}

func newTestMemoryStore(t *testing.T, clock *testutil.Clock) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(100, WithMemoryClock(clock.Now))
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newTestMemoryStore(t, clock)
	ctx := context.Background()

	entry := NewEntry(testutil.Companies(3), clock.Now(), DefaultTTL)
	if err := store.Put(ctx, testQuery, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, testQuery)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Results) != 3 || got.Results[0].Name != "Company 1" {
		t.Errorf("Get() results = %+v", got.Results)
	}

	got.Results[0].Name = "mutated"
	again, _ := store.Get(ctx, testQuery)
	if again.Results[0].Name != "Company 1" {
		t.Error("mutating a returned entry must not change the stored one")
	}
}

func TestMemoryStore_Get_Miss(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	store := newTestMemoryStore(t, clock)

	if _, err := store.Get(context.Background(), testQuery); err != ErrCacheMiss {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
	if _, err := store.GetStale(context.Background(), testQuery); err != ErrCacheMiss {
		t.Errorf("GetStale() error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryStore_ExpiredEntryStillStale(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newTestMemoryStore(t, clock)
	ctx := context.Background()

	fetchedAt := clock.Now()
	if err := store.Put(ctx, testQuery, NewEntry(testutil.Companies(2), fetchedAt, DefaultTTL)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	clock.Advance(DefaultTTL + time.Second)

	if _, err := store.Get(ctx, testQuery); err != ErrCacheMiss {
		t.Errorf("Get() after TTL error = %v, want ErrCacheMiss", err)
	}

	stale, err := store.GetStale(ctx, testQuery)
	if err != nil {
		t.Fatalf("GetStale() error = %v", err)
	}
	if !stale.FetchedAt.Equal(fetchedAt) {
		t.Errorf("FetchedAt = %v, want %v", stale.FetchedAt, fetchedAt)
	}
	if len(stale.Results) != 2 {
		t.Errorf("got %d stale results, want 2", len(stale.Results))
	}
}

func TestMemoryStore_PutReplaces(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newTestMemoryStore(t, clock)
	ctx := context.Background()

	if err := store.Put(ctx, testQuery, NewEntry(testutil.Companies(1), clock.Now(), DefaultTTL)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	clock.Advance(time.Minute)
	if err := store.Put(ctx, testQuery, NewEntry(testutil.Companies(4), clock.Now(), DefaultTTL)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, testQuery)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Results) != 4 {
		t.Errorf("got %d results, want the replacing entry with 4", len(got.Results))
	}
	if !got.FetchedAt.Equal(clock.Now()) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, clock.Now())
	}
}

func TestMemoryStore_Put_NilEntry(t *testing.T) {
	store := newTestMemoryStore(t, testutil.NewClock(time.Now()))
	if err := store.Put(context.Background(), testQuery, nil); err == nil {
		t.Error("Put with nil entry should return error")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newTestMemoryStore(t, clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := query.Query{Track: query.TrackVakbekwaamHovenier, Location: fmt.Sprintf("city-%d", i%5), RadiusKm: 10}
			_ = store.Put(ctx, q, NewEntry(testutil.Companies(i%5+1), clock.Now(), DefaultTTL))
			_, _ = store.Get(ctx, q)
			_, _ = store.GetStale(ctx, q)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		q := query.Query{Track: query.TrackVakbekwaamHovenier, Location: fmt.Sprintf("city-%d", i), RadiusKm: 10}
		if _, err := store.GetStale(ctx, q); err != nil {
			t.Errorf("GetStale(%s) error = %v", q, err)
		}
	}
}
