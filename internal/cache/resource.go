package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/foliolabs/folio/internal/domain"
)

// resourceEntry pairs a resource with its reference count.
type resourceEntry struct {
	res  *domain.SharedResource
	refs int
	elem *list.Element
}

// ResourceHandle is the ownership token returned by Acquire and Set.
// Releasing is idempotent per handle, so dropping a handle twice cannot
// corrupt the count.
type ResourceHandle struct {
	c    *ResourceCache
	key  string
	res  *domain.SharedResource
	once sync.Once
}

// Resource returns the held resource.
func (h *ResourceHandle) Resource() *domain.SharedResource {
	return h.res
}

// Release drops this handle's reference.
func (h *ResourceHandle) Release() {
	h.once.Do(func() {
		h.c.release(h.key)
	})
}

// ResourceCache holds shared binary sub-resources under a byte budget.
// Entries with live handles are never evicted: when everything in the
// cache is referenced, the budget is softly exceeded instead.
type ResourceCache struct {
	mu sync.Mutex

	entries map[string]*resourceEntry
	lru     *list.List // front = most recently used; values are keys

	maxBytes int64
	bytes    int64

	idleExpiry time.Duration // 0 = disabled

	now    func() time.Time
	logger *slog.Logger
}

// NewResourceCache creates a resource cache bounded by maxBytes.
func NewResourceCache(maxBytes int64, logger *slog.Logger) *ResourceCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceCache{
		entries:  make(map[string]*resourceEntry),
		lru:      list.New(),
		maxBytes: maxBytes,
		now:      time.Now,
		logger:   logger,
	}
}

// SetIdleExpiry enables lazy idle expiry for unreferenced entries.
func (c *ResourceCache) SetIdleExpiry(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleExpiry = d
}

// Acquire returns a handle to a cached resource, bumping its reference
// count. Unreferenced entries older than the idle threshold are removed
// and reported absent.
func (c *ResourceCache) Acquire(bookID, path string) (*ResourceHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := resourceKey(bookID, path)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if entry.refs == 0 && c.idleExpiry > 0 && c.now().Sub(entry.res.LastAccess) > c.idleExpiry {
		c.removeLocked(key, entry)
		return nil, false
	}

	if c.idleExpiry > 0 {
		entry.res.LastAccess = c.now()
	}
	c.lru.MoveToFront(entry.elem)
	entry.refs++
	return &ResourceHandle{c: c, key: key, res: entry.res}, true
}

// Set inserts a resource and returns an already-acquired handle for it.
// Inserting over an existing entry replaces the bytes but keeps the
// existing reference count.
func (c *ResourceCache) Set(res *domain.SharedResource) *ResourceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := resourceKey(res.BookID, res.Path)
	res.LastAccess = c.now()

	if entry, ok := c.entries[key]; ok {
		c.bytes += res.Size() - entry.res.Size()
		entry.res = res
		c.lru.MoveToFront(entry.elem)
		entry.refs++
		c.evictLocked()
		return &ResourceHandle{c: c, key: key, res: res}
	}

	entry := &resourceEntry{res: res, refs: 1}
	entry.elem = c.lru.PushFront(key)
	c.entries[key] = entry
	c.bytes += res.Size()

	c.evictLocked()
	return &ResourceHandle{c: c, key: key, res: res}
}

// Has reports presence without touching recency or references.
func (c *ResourceCache) Has(bookID, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[resourceKey(bookID, path)]
	if !ok {
		return false
	}
	if entry.refs == 0 && c.idleExpiry > 0 && c.now().Sub(entry.res.LastAccess) > c.idleExpiry {
		c.removeLocked(resourceKey(bookID, path), entry)
		return false
	}
	return true
}

// Refs returns the live reference count for a resource (0 if absent).
func (c *ResourceCache) Refs(bookID, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[resourceKey(bookID, path)]; ok {
		return entry.refs
	}
	return 0
}

// Len returns the live entry count.
func (c *ResourceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Bytes returns the tracked memory footprint.
func (c *ResourceCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Clear drops every unreferenced entry. Referenced entries survive so live
// handles stay valid; they fall out once released.
func (c *ResourceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if entry.refs == 0 {
			c.removeLocked(key, entry)
		}
	}
}

func (c *ResourceCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.refs == 0 {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		// Newly evictable; trim if the cache has been running over budget
		c.evictLocked()
	}
}

// evictLocked walks from the cold end, skipping referenced entries. If the
// budget is exceeded and nothing is evictable, the overrun is tolerated.
func (c *ResourceCache) evictLocked() {
	if c.maxBytes <= 0 {
		return
	}
	for c.bytes > c.maxBytes {
		var victim *list.Element
		for e := c.lru.Back(); e != nil; e = e.Prev() {
			if c.entries[e.Value.(string)].refs == 0 {
				victim = e
				break
			}
		}
		if victim == nil {
			c.logger.Debug("resource budget exceeded, all entries referenced", "bytes", c.bytes, "budget", c.maxBytes)
			return
		}
		key := victim.Value.(string)
		c.removeLocked(key, c.entries[key])
	}
}

func (c *ResourceCache) removeLocked(key string, entry *resourceEntry) {
	delete(c.entries, key)
	c.lru.Remove(entry.elem)
	c.bytes -= entry.res.Size()
}

func resourceKey(bookID, path string) string {
	return bookID + ":" + path
}
