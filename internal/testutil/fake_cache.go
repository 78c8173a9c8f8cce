package testutil

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	val       []byte
	expiresAt time.Time
}

// FakeCache is an in-memory cache.Cache driven by a manual clock, so TTL
// expiry can be tested without sleeping.
type FakeCache struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]cacheEntry
	sets    int
}

// NewFakeCache returns an empty FakeCache whose clock starts at a fixed time.
func NewFakeCache() *FakeCache {
	return &FakeCache{
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		entries: make(map[string]cacheEntry),
	}
}

// Advance moves the cache clock forward.
func (c *FakeCache) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Get returns the value for key while it is unexpired.
func (c *FakeCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now.Before(e.expiresAt) {
		return nil, false
	}
	return e.val, true
}

// Set stores val under key for ttl.
func (c *FakeCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{val: val, expiresAt: c.now.Add(ttl)}
	c.sets++
	c.mu.Unlock()
}

// Delete removes key.
func (c *FakeCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge removes all entries.
func (c *FakeCache) Purge(context.Context) {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *FakeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sets returns the number of Set calls so far.
func (c *FakeCache) Sets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}
