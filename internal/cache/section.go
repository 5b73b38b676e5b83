// Package cache holds the per-session memory tier: decoded content units,
// reference-counted shared resources, and rasterized bitmap pages. All
// three caches are bounded, LRU-ordered, and safe for concurrent use.
package cache

import (
	"container/list"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/foliolabs/folio/internal/domain"
)

// SectionCache holds decoded content units under a combined byte budget and
// entry-count ceiling. Eviction is least-recently-accessed first. Idle
// expiry is lazy: a Get or Has that finds an entry older than the threshold
// treats it as absent and removes it; there is no background sweep.
type SectionCache struct {
	mu sync.Mutex

	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	maxBytes   int64
	maxEntries int
	bytes      int64

	idleExpiry time.Duration // 0 = disabled

	// onEvict fires for every entry leaving the cache (eviction, expiry,
	// removal, clear) so the owner can release dependent resource handles.
	onEvict func(*domain.ContentUnit)

	now    func() time.Time
	logger *slog.Logger
}

// NewSectionCache creates a section cache bounded by maxBytes and
// maxEntries. A zero bound means unbounded on that axis.
func NewSectionCache(maxBytes int64, maxEntries int, logger *slog.Logger) *SectionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SectionCache{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     logger,
	}
}

// OnEvict registers a callback invoked whenever an entry leaves the cache.
func (c *SectionCache) OnEvict(fn func(*domain.ContentUnit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// SetIdleExpiry enables lazy idle expiry. Zero disables it.
func (c *SectionCache) SetIdleExpiry(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleExpiry = d
}

func sectionKey(bookID string, index int) string {
	return bookID + ":" + strconv.Itoa(index)
}

// Get returns the cached unit, refreshing its access time when idle expiry
// is enabled. A stale entry is removed and reported absent.
func (c *SectionCache) Get(bookID string, index int) (*domain.ContentUnit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[sectionKey(bookID, index)]
	if !ok {
		return nil, false
	}
	unit := elem.Value.(*domain.ContentUnit)

	if c.expiredLocked(unit) {
		c.removeLocked(elem)
		return nil, false
	}

	if c.idleExpiry > 0 {
		unit.LastAccess = c.now()
	}
	c.lru.MoveToFront(elem)
	return unit, true
}

// Has reports presence without refreshing recency. Stale entries are
// removed, same as Get.
func (c *SectionCache) Has(bookID string, index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[sectionKey(bookID, index)]
	if !ok {
		return false
	}
	if c.expiredLocked(elem.Value.(*domain.ContentUnit)) {
		c.removeLocked(elem)
		return false
	}
	return true
}

// Set inserts or replaces a unit, stamping fresh timestamps, then evicts
// from the cold end until the cache is back under budget.
func (c *SectionCache) Set(unit *domain.ContentUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sectionKey(unit.BookID, unit.Index)
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}

	ts := c.now()
	unit.CreatedAt = ts
	unit.LastAccess = ts
	if unit.Size == 0 {
		unit.Size = domain.EstimateSize(unit.Payload, unit.StyleRefs, unit.ResourceRefs)
	}

	c.entries[key] = c.lru.PushFront(unit)
	c.bytes += unit.Size

	for c.overBudgetLocked() {
		back := c.lru.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*domain.ContentUnit)
		c.removeLocked(back)
		c.logger.Debug("evicted section", "bookID", evicted.BookID, "index", evicted.Index)
	}
}

// Remove drops a single entry if present.
func (c *SectionCache) Remove(bookID string, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[sectionKey(bookID, index)]; ok {
		c.removeLocked(elem)
	}
}

// Clear drops every entry, firing the evict callback for each.
func (c *SectionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.lru.Len() > 0 {
		c.removeLocked(c.lru.Back())
	}
}

// Len returns the live entry count.
func (c *SectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the tracked memory footprint.
func (c *SectionCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *SectionCache) overBudgetLocked() bool {
	if c.maxEntries > 0 && c.lru.Len() > c.maxEntries {
		return true
	}
	return c.maxBytes > 0 && c.bytes > c.maxBytes
}

func (c *SectionCache) expiredLocked(unit *domain.ContentUnit) bool {
	return c.idleExpiry > 0 && c.now().Sub(unit.LastAccess) > c.idleExpiry
}

func (c *SectionCache) removeLocked(elem *list.Element) {
	unit := elem.Value.(*domain.ContentUnit)
	delete(c.entries, sectionKey(unit.BookID, unit.Index))
	c.lru.Remove(elem)
	c.bytes -= unit.Size
	if c.onEvict != nil {
		c.onEvict(unit)
	}
}
