package resolver

import (
	"sync"
	"time"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 10000
)

// Entry is a cached resolution. Found=false entries are negative results and are
// served from cache like any other.
type Entry struct {
	TenantID string    `json:"tenant_id,omitempty"`
	Found    bool      `json:"found"`
	StoredAt time.Time `json:"stored_at"`
}

// Cache is the process-local host to tenant cache owned by a Resolver.
type Cache struct {
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	entries    map[string]Entry
}

// NewCache constructs a cache. A nil clock uses time.Now.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		now:        now,
		entries:    make(map[string]Entry),
	}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for host while it is younger than the TTL.
func (c *Cache) Get(host string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[host]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if !c.fresh(entry) {
		c.mu.Lock()
		if cur, ok := c.entries[host]; ok && !c.fresh(cur) {
			delete(c.entries, host)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return entry, true
}

// Set stores entry, stamping it with the current time when StoredAt is zero.
func (c *Cache) Set(host string, entry Entry) {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[host]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[host] = entry
}

// Delete drops host.
func (c *Cache) Delete(host string) {
	c.mu.Lock()
	delete(c.entries, host)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) fresh(entry Entry) bool {
	return c.now().Sub(entry.StoredAt) < c.ttl
}

// evictLocked removes expired entries, then an arbitrary one if the cache is still full.
func (c *Cache) evictLocked() {
	for host, entry := range c.entries {
		if !c.fresh(entry) {
			delete(c.entries, host)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	for host := range c.entries {
		delete(c.entries, host)
		return
	}
}
