// Package cache keeps computed results per workspace path until a change
// under that path invalidates them.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/CageChen/entrytree/internal/metrics"
)

// Key identifies a cached computation.
type Key struct {
	Workspace string
	Path      string
	Variant   string // e.g. the limits the result was computed with
}

type item[V any] struct {
	value      V
	stored     time.Time
	lastAccess time.Time
}

// Cache is a bounded in-memory result cache.
type Cache[V any] struct {
	maxEntries int
	ttl        time.Duration // 0 means no expiry
	now        func() time.Time

	mu      sync.Mutex
	entries map[Key]*item[V]
}

// New creates a cache holding at most maxEntries results for at most ttl.
func New[V any](maxEntries int, ttl time.Duration) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &Cache[V]{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		entries:    make(map[Key]*item[V]),
	}
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.entries[key]
	if ok && c.ttl > 0 && c.now().Sub(it.stored) > c.ttl {
		delete(c.entries, key)
		ok = false
	}
	metrics.RecordCacheLookup(ok)
	if !ok {
		var zero V
		return zero, false
	}
	it.lastAccess = c.now()
	return it.value, true
}

// Put stores a value, evicting the least recently used entry when full.
func (c *Cache[V]) Put(key Key, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		for len(c.entries) >= c.maxEntries {
			if !c.evictOldest() {
				break
			}
		}
	}
	now := c.now()
	c.entries[key] = &item[V]{value: value, stored: now, lastAccess: now}
}

func (c *Cache[V]) evictOldest() bool {
	var oldest Key
	var oldestTime time.Time
	found := false
	for k, it := range c.entries {
		if !found || it.lastAccess.Before(oldestTime) {
			oldest, oldestTime, found = k, it.lastAccess, true
		}
	}
	if found {
		delete(c.entries, oldest)
	}
	return found
}

// Invalidate drops every entry of the workspace whose path is p, an ancestor
// of p, or a descendant of p. It returns the number of entries dropped.
func (c *Cache[V]) Invalidate(workspace, p string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if k.Workspace != workspace {
			continue
		}
		if related(k.Path, p) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// InvalidateWorkspace drops every entry of the workspace.
func (c *Cache[V]) InvalidateWorkspace(workspace string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if k.Workspace == workspace {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// related reports whether one path contains the other.
func related(a, b string) bool {
	return within(a, b) || within(b, a)
}

// within reports whether p is dir or lies under it.
func within(p, dir string) bool {
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/")
}
