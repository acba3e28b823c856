package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is Tier 1: an in-process LRU bounded by both entry count and
// total payload bytes (SPEC_FULL.md §4.3). Size eviction runs on Set,
// evicting the least recently used entry first; TTL expiry is checked on
// read, matching the teacher's lazy-expiry style.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	policy     Policy
	totalBytes int64
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a new Tier 1 LRU cache with the given policy.
func NewMemoryCache(policy Policy) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		policy:  policy,
	}
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or
// expiry, and promotes the entry to most-recently-used on hit.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)

	if time.Now().After(entry.expiresAt) {
		c.removeLocked(el)
		return nil, false
	}

	c.order.MoveToFront(el)
	return entry.value, true
}

// Set stores a value with the given TTL, evicting least-recently-used
// entries as needed to stay within the policy's MaxEntries/MaxBytes.
// TTL<=0 means don't cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}

	entry := &cacheEntry{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	el := c.order.PushFront(entry)
	c.entries[key] = el
	c.totalBytes += int64(len(value))

	c.evictLocked()
	return nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

// Len returns the current entry count, for tests and stats.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.totalBytes = 0
	return nil
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.totalBytes -= int64(len(entry.value))
	delete(c.entries, entry.key)
	c.order.Remove(el)
}

func (c *MemoryCache) evictLocked() {
	for c.policy.MaxEntries > 0 && c.order.Len() > c.policy.MaxEntries {
		c.evictOldestLocked()
	}
	for c.policy.MaxBytes > 0 && c.totalBytes > c.policy.MaxBytes && c.order.Len() > 0 {
		c.evictOldestLocked()
	}
}

func (c *MemoryCache) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.removeLocked(back)
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
