package workspace

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Cache defaults.
const (
	DefaultTTL        = 30 * time.Minute
	DefaultMaxEntries = 1000
)

// Cache holds workspaces in memory. Entries expire ttl after their last
// write, and the least recently used entry is evicted once maxEntries is
// reached. Cache is safe for concurrent use and stores copies.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

type cacheEntry struct {
	ws      *Workspace
	expires time.Time
}

// NewCache creates a Cache. Non-positive arguments select the defaults.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		lru: lru.New(maxEntries),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns a copy of the workspace stored under key.
func (c *Cache) Get(key string) (*Workspace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if !c.now().Before(entry.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.ws.Clone(), true
}

// Put stores a copy of ws under key.
func (c *Cache) Put(key string, ws *Workspace) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, cacheEntry{ws: ws.Clone(), expires: c.now().Add(c.ttl)})
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)
}

// Len returns the number of cached entries, expired ones included until
// they are next touched.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}
