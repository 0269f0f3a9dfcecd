package identity

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"chatrank/domain"
)

// DefaultTTL bounds staleness of both positive and negative cache records.
const DefaultTTL = 24 * time.Hour

// Directory is the external lookup surface the resolver falls back to on
// cache misses.
type Directory interface {
	Lookup(ctx context.Context, ids []string) (map[string]domain.Identity, error)
}

// EntryCache is the batched identity cache.
type EntryCache interface {
	BatchGet(ctx context.Context, ids []string) (map[string]domain.CacheEntry, error)
	BatchPut(ctx context.Context, entries map[string]domain.CacheEntry) error
}

// Resolver resolves participant ids to identities through a read-through
// cache with negative caching.
type Resolver struct {
	cache     EntryCache
	directory Directory
	ttl       time.Duration
	logger    *log.Logger
	now       func() int64
}

// ResolverOption tweaks a Resolver.
type ResolverOption func(*Resolver)

// WithTTL overrides the record TTL applied to directory results.
func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock overrides the millisecond clock, for tests.
func WithClock(now func() int64) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver wires a resolver from its collaborators.
func NewResolver(cache EntryCache, directory Directory, logger *log.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Resolver{
		cache:     cache,
		directory: directory,
		ttl:       DefaultTTL,
		logger:    logger,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps participant ids to identities. Ids absent from the result
// are unresolved; that is never an error for an individual id. An unexpired
// negative record suppresses any directory call for its id.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (map[string]domain.Identity, error) {
	unique := dedupe(ids)
	result := make(map[string]domain.Identity, len(unique))
	if len(unique) == 0 {
		return result, nil
	}

	cached, err := r.cache.BatchGet(ctx, unique)
	if err != nil {
		// A broken cache must not take ranking down; fall through to the
		// directory for the whole batch.
		r.logger.WithError(err).Warn("identity cache read failed")
		cached = map[string]domain.CacheEntry{}
	}

	misses := make([]string, 0, len(unique))
	for _, id := range unique {
		entry, ok := cached[id]
		if !ok {
			misses = append(misses, id)
			continue
		}
		if entry.Negative() {
			continue // resolved-absent, do not re-fetch
		}
		result[id] = *entry.Identity
	}
	if len(misses) == 0 {
		return result, nil
	}

	found, err := r.directory.Lookup(ctx, misses)
	if err != nil {
		return nil, err
	}

	expiresAt := r.now() + r.ttl.Milliseconds()
	writeBack := make(map[string]domain.CacheEntry, len(misses))
	for _, id := range misses {
		identity, ok := found[id]
		if !ok {
			writeBack[id] = domain.NegativeEntry(expiresAt)
			continue
		}
		writeBack[id] = domain.PositiveEntry(identity, expiresAt)
		result[id] = identity
	}
	if err := r.cache.BatchPut(ctx, writeBack); err != nil {
		// Write-back is best effort; the resolved batch is still good.
		r.logger.WithError(err).Warn("identity cache write failed")
	}
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
