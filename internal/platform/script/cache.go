package script

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// hashSource returns the hex SHA-256 of src, the content key used by the
// compile cache.
func hashSource(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// Cache is a content-addressed store of compiled programs shared across
// sessions. Entries are evicted oldest-first once the size cap is reached.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*Program
	order   []string
	hits    int64
	misses  int64
}

// CacheStats is a point-in-time snapshot of cache activity.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// NewCache builds a cache holding at most max compiled programs. A max of
// zero or less falls back to 256.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = 256
	}
	return &Cache{
		max:     max,
		entries: make(map[string]*Program),
	}
}

// Get returns the cached program for a content key.
func (c *Cache) Get(key string) (*Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return p, ok
}

// Put stores a compiled program under its content key.
func (c *Cache) Put(key string, p *Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	for len(c.entries) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = p
	c.order = append(c.order, key)
}

// Stats reports hit, miss and size counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}
