// Package cache provides a small TTL result cache for tool invocations.
//
// Keys are fingerprints of a tool name plus its normalised input, so two
// plans asking for the same quote within the freshness window share one
// upstream call. Concurrent misses for the same key are coalesced through
// singleflight so the underlying tool runs at most once per key at a time.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a TTL and capacity bounded key/value store safe for concurrent
// use. The zero value is not usable; create instances with [New].
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	group singleflight.Group

	hits   uint64
	misses uint64
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Option configures a [Cache].
type Option func(*Cache)

// WithTTL sets how long entries stay fresh. Default 60 seconds.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithMaxEntries bounds the number of live entries; the least recently used
// entry is evicted when the bound is exceeded. Default 512.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache with the given options applied over the defaults.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		ttl:        60 * time.Second,
		maxEntries: 512,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key if present and not expired. Expired
// entries are removed on access.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Put stores value under key with the cache's default TTL, evicting the
// least recently used entry if the capacity bound is exceeded.
func (c *Cache) Put(key string, value any) {
	c.PutTTL(key, value, 0)
}

// PutTTL stores value under key with a per-entry freshness window. A ttl of
// zero or less uses the cache's default.
func (c *Cache) PutTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(ttl)
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&entry{key: key, value: value, expiresAt: c.now().Add(ttl)})
	c.entries[key] = el

	for c.lru.Len() > c.maxEntries {
		c.removeLocked(c.lru.Back())
	}
}

// Do returns the cached value for key, or runs fn to produce it. Concurrent
// callers missing on the same key are coalesced: fn runs once and all callers
// receive its result. Errors are returned to all coalesced callers and are
// never cached.
//
// The second return value reports whether the value came from cache rather
// than from fn.
func (c *Cache) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	return c.DoTTL(ctx, key, 0, fn)
}

// DoTTL is [Cache.Do] with a per-entry freshness window. A ttl of zero or
// less uses the cache's default.
func (c *Cache) DoTTL(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another caller may have populated the key while this
		// call was queued behind an in-flight execution.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.PutTTL(key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Invalidate removes key from the cache if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// Purge removes all entries and resets hit/miss counters.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.hits, c.misses = 0, 0
}

// Len returns the number of live entries, including any that have expired
// but not yet been evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats reports cumulative hit and miss counts since creation or the last
// [Cache.Purge].
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) removeLocked(el *list.Element) {
	ent := el.Value.(*entry)
	delete(c.entries, ent.key)
	c.lru.Remove(el)
}
