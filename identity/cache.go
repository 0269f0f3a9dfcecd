package identity

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"chatrank/domain"
)

// cacheBatchLimit caps how many keys a single batched cache round trip may
// carry; larger requests are chunked.
const cacheBatchLimit = 100

// Cache stores identity lookups (positive and negative) in Redis.
type Cache struct {
	client *redis.Client
	now    func() int64
}

// NewCache creates a cache on the provided Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client, now: func() int64 { return time.Now().UnixMilli() }}
}

func cacheKey(id string) string {
	return "chatter:" + id
}

// BatchGet reads entries for all ids in chunked pipeline round trips.
// Expired entries are treated as absent. Missing ids are simply not in the
// returned map.
func (c *Cache) BatchGet(ctx context.Context, ids []string) (map[string]domain.CacheEntry, error) {
	out := make(map[string]domain.CacheEntry, len(ids))
	nowMillis := c.now()
	for start := 0; start < len(ids); start += cacheBatchLimit {
		chunk := ids[start:min(start+cacheBatchLimit, len(ids))]
		cmds, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range chunk {
				pipe.Get(ctx, cacheKey(id))
			}
			return nil
		})
		if err != nil && err != redis.Nil {
			return nil, err
		}
		for i, cmd := range cmds {
			strCmd, ok := cmd.(*redis.StringCmd)
			if !ok {
				continue
			}
			data, err := strCmd.Bytes()
			if err != nil {
				continue // redis.Nil or transient per-key failure: treat as miss
			}
			var entry domain.CacheEntry
			if err := sonic.Unmarshal(data, &entry); err != nil {
				continue
			}
			if entry.Expired(nowMillis) {
				continue
			}
			out[chunk[i]] = entry
		}
	}
	return out, nil
}

// BatchPut writes entries in chunked pipeline round trips. Each key carries
// a Redis TTL matching the entry deadline so expired records also vanish
// from the store itself.
func (c *Cache) BatchPut(ctx context.Context, entries map[string]domain.CacheEntry) error {
	nowMillis := c.now()
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	for start := 0; start < len(ids); start += cacheBatchLimit {
		chunk := ids[start:min(start+cacheBatchLimit, len(ids))]
		_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range chunk {
				entry := entries[id]
				data, err := sonic.Marshal(entry)
				if err != nil {
					return err
				}
				ttl := time.Duration(entry.ExpiresAt-nowMillis) * time.Millisecond
				if ttl <= 0 {
					continue
				}
				pipe.Set(ctx, cacheKey(id), data, ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
