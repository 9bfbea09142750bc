// Package ttlcache is a per-process cache whose entries each carry their own
// validity window. Validity is checked on read; nothing sweeps in the
// background.
package ttlcache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/jvs-project/coordkit/pkg/metrics"
)

// Cache maps string keys to values of type V.
type Cache[V any] struct {
	items   *gocache.Cache
	loads   singleflight.Group
	metrics *metrics.Registry
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	metrics *metrics.Registry
}

// WithMetrics records hits, misses and loads on r.
func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) { o.metrics = r }
}

// New returns an empty cache.
func New[V any](opts ...Option) *Cache[V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		// cleanup interval 0 disables the janitor goroutine
		items:   gocache.New(gocache.NoExpiration, 0),
		metrics: o.metrics,
	}
}

// Get returns the value stored under key if it is still within its
// validity window. Stale entries are left in place until overwritten.
func (c *Cache[V]) Get(key string) (V, bool) {
	raw, ok := c.items.Get(key)
	c.metrics.RecordCacheLookup(ok)
	if !ok {
		var zero V
		return zero, false
	}
	// a nil interface value fails the assertion and yields the zero V
	v, _ := raw.(V)
	return v, true
}

// Set stores value under key, valid for validFor from now. It overwrites any
// existing entry. A non-positive validFor stores an entry that is already
// stale on the next read.
func (c *Cache[V]) Set(key string, value V, validFor time.Duration) {
	if validFor <= 0 {
		validFor = time.Nanosecond
	}
	c.items.Set(key, value, validFor)
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.items.Delete(key)
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.items.Flush()
}

// Len returns the number of entries that are still valid.
func (c *Cache[V]) Len() int {
	return len(c.items.Items())
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Concurrent misses for the same key share one load call. Only successful
// loads are cached, so a failure is retried on the next access.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, validFor time.Duration, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.loads.Do(key, func() (any, error) {
		// another caller may have filled it while we queued
		if raw, ok := c.items.Get(key); ok {
			return raw, nil
		}
		v, err := load(ctx)
		c.metrics.RecordCacheLoad(err == nil)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, validFor)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, fmt.Errorf("load %s: %w", key, err)
	}
	v, _ := res.(V)
	return v, nil
}
