package cache

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/foliolabs/folio/internal/domain"
)

// BitmapCache holds rasterized pages keyed by (unit, scale, theme) under a
// combined count and byte ceiling. It is cleared wholesale on theme, scale
// or document changes: every entry goes stale at once, so selective
// invalidation would only add bookkeeping.
type BitmapCache struct {
	mu sync.Mutex

	entries map[domain.BitmapKey]*list.Element
	lru     *list.List // front = most recently used

	maxBytes   int64
	maxEntries int
	bytes      int64

	logger *slog.Logger
}

// NewBitmapCache creates a bitmap cache bounded by maxBytes and maxEntries.
// A zero bound means unbounded on that axis.
func NewBitmapCache(maxBytes int64, maxEntries int, logger *slog.Logger) *BitmapCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &BitmapCache{
		entries:    make(map[domain.BitmapKey]*list.Element),
		lru:        list.New(),
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Get returns the cached page and bumps its recency.
func (c *BitmapCache) Get(index int, scale float64, theme string) (*domain.BitmapPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[domain.BitmapKey{Index: index, Scale: scale, Theme: theme}]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*domain.BitmapPage), true
}

// Set inserts or replaces a page, then evicts cold entries until the cache
// is back under budget.
func (c *BitmapCache) Set(page *domain.BitmapPage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := page.Key()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}

	c.entries[key] = c.lru.PushFront(page)
	c.bytes += page.Size()

	for c.overBudgetLocked() {
		back := c.lru.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*domain.BitmapPage)
		c.removeLocked(back)
		c.logger.Debug("evicted bitmap", "index", evicted.Index, "scale", evicted.Scale, "theme", evicted.Theme)
	}
}

// Clear drops every cached page.
func (c *BitmapCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[domain.BitmapKey]*list.Element)
	c.lru.Init()
	c.bytes = 0
}

// Len returns the live entry count.
func (c *BitmapCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the tracked memory footprint.
func (c *BitmapCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *BitmapCache) overBudgetLocked() bool {
	if c.maxEntries > 0 && c.lru.Len() > c.maxEntries {
		return true
	}
	return c.maxBytes > 0 && c.bytes > c.maxBytes
}

func (c *BitmapCache) removeLocked(elem *list.Element) {
	page := elem.Value.(*domain.BitmapPage)
	delete(c.entries, page.Key())
	c.lru.Remove(elem)
	c.bytes -= page.Size()
}
