package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"chatrank/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(client), mr
}

func TestCachePutGetRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	entries := map[string]domain.CacheEntry{
		"u1": domain.PositiveEntry(domain.Identity{ID: "u1", DisplayName: "one", AvatarURL: "https://cdn/1.png"}, now+60_000),
		"u2": domain.NegativeEntry(now + 60_000),
	}
	if err := cache.BatchPut(ctx, entries); err != nil {
		t.Fatalf("batch put: %v", err)
	}

	got, err := cache.BatchGet(ctx, []string{"u1", "u2", "u3"})
	if err != nil {
		t.Fatalf("batch get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got["u1"].Negative() || got["u1"].Identity.DisplayName != "one" {
		t.Fatalf("unexpected u1 entry: %#v", got["u1"])
	}
	if !got["u2"].Negative() {
		t.Fatalf("u2 should be negative: %#v", got["u2"])
	}
	if _, ok := got["u3"]; ok {
		t.Fatal("u3 should be a miss")
	}

	if ttl := mr.TTL(cacheKey("u1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheExpiredEntryIsAbsent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	cache.now = func() int64 { return base }
	entries := map[string]domain.CacheEntry{
		"u1": domain.PositiveEntry(domain.Identity{ID: "u1"}, base+1000),
	}
	if err := cache.BatchPut(ctx, entries); err != nil {
		t.Fatalf("batch put: %v", err)
	}

	// Advance the cache clock past the record deadline; the redis key may
	// still exist but the entry must read as absent.
	cache.now = func() int64 { return base + 1001 }
	got, err := cache.BatchGet(ctx, []string{"u1"})
	if err != nil {
		t.Fatalf("batch get: %v", err)
	}
	if _, ok := got["u1"]; ok {
		t.Fatalf("expired entry returned: %#v", got["u1"])
	}
}

func TestCachePutSkipsAlreadyExpired(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	cache.now = func() int64 { return base }
	err := cache.BatchPut(ctx, map[string]domain.CacheEntry{
		"u1": domain.NegativeEntry(base - 1),
	})
	if err != nil {
		t.Fatalf("batch put: %v", err)
	}
	if mr.Exists(cacheKey("u1")) {
		t.Fatal("expired entry should not be written")
	}
}

func TestCacheChunksLargeBatches(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	entries := make(map[string]domain.CacheEntry, 250)
	ids := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("u%03d", i)
		ids = append(ids, id)
		entries[id] = domain.NegativeEntry(now + 60_000)
	}
	if err := cache.BatchPut(ctx, entries); err != nil {
		t.Fatalf("batch put: %v", err)
	}
	got, err := cache.BatchGet(ctx, ids)
	if err != nil {
		t.Fatalf("batch get: %v", err)
	}
	if len(got) != 250 {
		t.Fatalf("expected 250 entries, got %d", len(got))
	}
}
