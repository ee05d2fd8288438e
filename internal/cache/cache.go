// Package cache provides a TTL cache whose misses are filled by a single
// coalesced fetch per key. Live entries are write-once: a later value for
// the same key must agree with the stored one until the entry expires or is
// invalidated.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/model"
)

// DefaultFetchTimeout bounds a detached fetch when the cache is not told otherwise.
const DefaultFetchTimeout = 30 * time.Second

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	name         string
	ttl          time.Duration
	fetchTimeout time.Duration
	equal        func(a, b V) bool
	now          func() time.Time

	mu      sync.RWMutex
	entries map[K]entry[V]
	group   singleflight.Group

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEqual sets the agreement check used by Put. Without it every rewrite
// of a live key is treated as a conflict.
func WithEqual[K comparable, V any](equal func(a, b V) bool) Option[K, V] {
	return func(c *Cache[K, V]) { c.equal = equal }
}

// WithClock replaces time.Now, for tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) { c.now = now }
}

// WithFetchTimeout bounds how long a detached fetch may run.
func WithFetchTimeout[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.fetchTimeout = d }
}

// New creates a cache whose entries live for ttl.
func New[K comparable, V any](name string, ttl time.Duration, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		name:         name,
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		entries:      make(map[K]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a live entry.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetStale returns an entry even if its TTL has passed. It is the read path
// for degraded operation while an upstream is unavailable.
func (c *Cache[K, V]) GetStale(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.value, ok
}

// Put stores value under key. Storing a value that disagrees with a live
// entry is a data_integrity error and leaves the entry untouched.
func (c *Cache[K, V]) Put(key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok && c.now().Before(existing.expiresAt) {
		if c.equal == nil || !c.equal(existing.value, value) {
			return apperrors.New(apperrors.KindDataIntegrity,
				fmt.Sprintf("%s cache: conflicting value for key %v", c.name, key))
		}
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// GetOrFetch returns the cached value or runs fetch once for all concurrent
// callers of the same key. The fetch runs detached from the caller's
// cancellation so its result still lands in the cache when the caller
// goes away; the caller itself gets request_cancelled.
func (c *Cache[K, V]) GetOrFetch(ctx context.Context, key K, fetch func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)
	if err := ctx.Err(); err != nil {
		return zero, apperrors.Wrap(apperrors.KindRequestCancelled, err, "")
	}

	ch := c.group.DoChan(flightKey(key), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		c.fetches.Add(1)
		v, err := fetch(fctx)
		if err != nil {
			return v, err
		}
		if err := c.Put(key, v); err != nil {
			return v, err
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, apperrors.Wrap(apperrors.KindRequestCancelled, ctx.Err(), "")
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// flightKey renders key in Go syntax. Strings are quoted, so struct keys
// whose fields contain spaces or braces cannot collide.
func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%#v", key)
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache[K, V]) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Invalidate drops every entry whose key matches and returns how many were
// removed. Callers use it when the data behind a key legitimately changed.
func (c *Cache[K, V]) Invalidate(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, live or expired.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats snapshots the counters.
func (c *Cache[K, V]) Stats() model.CacheStats {
	return model.CacheStats{
		Name:    c.name,
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
	}
}
