// Package resultcache provides the TTL result cache and single-flight
// de-duplication for scrape queries. Concurrent identical queries within a
// liveness window share exactly one underlying fetch.
package resultcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mealcart/pricewatch/internal/model"
)

// sweepInterval is how often the background sweeper drops expired entries.
// Lookups also evict lazily, so the sweeper only bounds memory.
const sweepInterval = 10 * time.Minute

type entry struct {
	fetchedAt time.Time
	results   []model.ProductRecord
}

// FetchFunc performs the underlying query when neither the cache nor the
// in-flight registry can satisfy it.
type FetchFunc func(ctx context.Context) ([]model.ProductRecord, error)

// Cache is a TTL-keyed result cache fused with an in-flight registry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	flight  singleflight.Group

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
	done    chan struct{}
	once    sync.Once
}

// New creates a Cache and starts its background sweeper.
func New() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		nowFunc: time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Close stops the background sweeper.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

// GetOrFetch returns the cached results for key when still live; otherwise it
// joins any in-flight fetch for the same key, or starts one. Successful
// results are cached for ttl. Failures are never cached: the in-flight entry
// is removed and the next call retries from scratch.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]model.ProductRecord, error) {
	if res, ok := c.lookup(key, ttl); ok {
		return res, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check under the flight: a racing caller may have populated the
		// cache between our miss and acquiring the flight slot.
		if res, ok := c.lookup(key, ttl); ok {
			return res, nil
		}

		res, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{fetchedAt: c.nowFunc(), results: res}
		c.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.ProductRecord), nil
}

// lookup returns a live entry, lazily evicting an expired one.
func (c *Cache) lookup(key string, ttl time.Duration) ([]model.ProductRecord, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.nowFunc().Sub(e.fetchedAt) > ttl {
		c.mu.Lock()
		// Entry may have been refreshed since the read; only evict the
		// stale one.
		if cur, ok := c.entries[key]; ok && cur.fetchedAt.Equal(e.fetchedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.results, true
}

// Len reports the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			cutoff := c.nowFunc().Add(-24 * time.Hour)
			c.mu.Lock()
			for k, e := range c.entries {
				if e.fetchedAt.Before(cutoff) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
