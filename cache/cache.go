// Package cache provides the per-instance TTL cache shared by the pipelines.
// Eviction releases the cache's own reference; final disposal of the value
// stays with the caller, via the OnDelete callback when one is registered.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL applies to entries stored without an explicit TTL.
const DefaultTTL = 240 * time.Second

// Options configure a stored entry.
type Options struct {
	// TTL is the time-to-live, refreshed on every access. Zero uses
	// DefaultTTL.
	TTL time.Duration
	// OnDelete is invoked exactly once when the entry leaves the cache, by
	// eviction, explicit delete, or Clear.
	OnDelete func(value any)
}

type item struct {
	value    any
	ttl      time.Duration
	deadline time.Time
	onDelete func(any)
}

// Cache is a TTL map. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	items   map[any]*item
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		items:   make(map[any]*item),
		now:     time.Now,
		gcEvery: 10 * time.Second,
	}
}

// SetClock overrides the time source, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Set stores value under key with the given options, replacing (and
// releasing) any previous entry.
func (c *Cache) Set(key, value any, opts Options) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.items[key]; ok && prev.onDelete != nil {
		prev.onDelete(prev.value)
	}
	c.items[key] = &item{
		value:    value,
		ttl:      ttl,
		deadline: c.now().Add(ttl),
		onDelete: opts.OnDelete,
	}
	c.maybeGC()
}

// Get returns the cached value and bumps its TTL. Expired entries are
// released and reported as missing.
func (c *Cache) Get(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(it.deadline) {
		c.evict(key, it)
		return nil, false
	}
	it.deadline = now.Add(it.ttl)
	return it.value, true
}

// Delete removes an entry, releasing it. No-op when absent.
func (c *Cache) Delete(key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.evict(key, it)
	}
}

// Clear releases every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, it := range c.items {
		c.evict(key, it)
	}
}

// Purge releases every expired entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) purgeLocked() {
	now := c.now()
	for key, it := range c.items {
		if now.After(it.deadline) {
			c.evict(key, it)
		}
	}
	c.lastGC = now
}

// maybeGC opportunistically purges during writes so an idle cache does not
// need a background goroutine.
func (c *Cache) maybeGC() {
	if c.now().Sub(c.lastGC) >= c.gcEvery {
		c.purgeLocked()
	}
}

func (c *Cache) evict(key any, it *item) {
	delete(c.items, key)
	if it.onDelete != nil {
		it.onDelete(it.value)
	}
}
