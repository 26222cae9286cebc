// Package dedupe implements the repeater's bounded, TTL'd duplicate-packet
// cache.
//
// The teacher's core/dedupe package is a fixed-size circular buffer with no
// TTL or true LRU eviction — the wrong shape for this spec, which requires
// both a time-to-live per entry and a hard 1000-entry cap. This is grounded
// instead on github.com/patrickmn/go-cache for the expiry half, combined
// with an explicit insertion-order list for the size-bound half — the same
// FIFO-eviction shape as the original engine.py's
// OrderedDict+popitem(last=False) seen_packets cache.
package dedupe

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultTTL is the default duplicate-suppression window.
const DefaultTTL = 60 * time.Second

// DefaultMaxEntries is the hard cap on cache size before oldest-first eviction.
const DefaultMaxEntries = 1000

// Cache is the bounded, TTL'd set of recently-seen packet hashes.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	store   *gocache.Cache
	order   []string // insertion order, oldest first, for size-bound eviction
}

// Config configures a Cache. Zero values fall back to the design defaults.
type Config struct {
	TTL     time.Duration
	MaxSize int
}

// New creates a Cache.
func New(cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		store:   gocache.New(ttl, ttl/2),
	}
}

// IsDuplicate returns true iff hash is present and not expired.
func (c *Cache) IsDuplicate(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, found := c.store.Get(hash)
	return found
}

// MarkSeen inserts hash with the current time, evicting expired entries
// and, if the cache has grown past maxSize, the oldest entries first.
func (c *Cache) MarkSeen(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.store.Get(hash); !found {
		c.order = append(c.order, hash)
	}
	c.store.SetDefault(hash, time.Now())
	c.cleanupLocked()
}

// Cleanup evicts expired entries and, if size exceeds the configured bound,
// the oldest entries first (FIFO), matching engine.py's seen-cache eviction.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

func (c *Cache) cleanupLocked() {
	c.store.DeleteExpired()

	// Drop order entries whose backing cache entry is gone (expired).
	compacted := c.order[:0]
	for _, h := range c.order {
		if _, found := c.store.Get(h); found {
			compacted = append(compacted, h)
		}
	}
	c.order = compacted

	for len(c.order) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		c.store.Delete(oldest)
	}
}

// Len returns the current number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.ItemCount()
}
