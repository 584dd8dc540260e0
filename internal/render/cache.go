package render

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// CacheEntry is a single render-cache value: a rendered body plus the
// structural fingerprint computed for it and its insertion time.
type CacheEntry struct {
	Body            string
	StructuralFP    string
	InsertedAt      time.Time
}

// Cache is the §4.5 render cache: key SHA-256(canonical_url), bounded and
// LRU-evicting, TTL-expiring, per-process (never persisted across runs).
// Grounded on the teacher's DiskCache LRU/access-order bookkeeping,
// generalized from disk-backed to pure in-memory since this cache's
// contract is explicitly not to survive a restart.
type Cache struct {
	mu          sync.Mutex
	maxEntries  int
	ttl         time.Duration
	entries     map[string]*CacheEntry
	accessOrder []string
}

// NewCache builds a Cache bounded to maxEntries with entries expiring after
// ttl (default 1h per session, per §4.5).
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*CacheEntry),
	}
}

// Key returns SHA-256(canonicalURL) as lowercase hex, the cache's key space.
func Key(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached entry for key if present and not expired. A hit
// refreshes the entry's LRU position.
func (c *Cache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.InsertedAt) > c.ttl {
		c.removeLocked(key)
		return nil, false
	}
	c.touchLocked(key)
	return entry, true
}

// Put inserts or replaces the entry for key, evicting the least-recently
// used entry if the cache is at capacity.
func (c *Cache) Put(key string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry
	c.touchLocked(key)
}

func (c *Cache) touchLocked(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, key)
}

func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
}

func (c *Cache) evictOldestLocked() {
	if len(c.accessOrder) == 0 {
		return
	}
	oldest := c.accessOrder[0]
	c.removeLocked(oldest)
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
