package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliolabs/folio/internal/adapter"
	"github.com/foliolabs/folio/internal/domain"
)

func newUnit(bookID string, index int, payload string) *domain.ContentUnit {
	return &domain.ContentUnit{BookID: bookID, Index: index, Payload: []byte(payload)}
}

func TestSectionCacheGetSet(t *testing.T) {
	c := NewSectionCache(0, 0, adapter.NullLogger())

	_, ok := c.Get("book", 1)
	require.False(t, ok)

	c.Set(newUnit("book", 1, "hello"))

	unit, ok := c.Get("book", 1)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), unit.Payload)
	assert.True(t, c.Has("book", 1))
	assert.False(t, c.Has("book", 2))
}

func TestSectionCacheEntryCeiling(t *testing.T) {
	c := NewSectionCache(0, 2, adapter.NullLogger())

	c.Set(newUnit("book", 1, "a"))
	c.Set(newUnit("book", 2, "b"))
	c.Set(newUnit("book", 3, "c"))

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Has("book", 1), "least recently used entry should be evicted")
	assert.True(t, c.Has("book", 2))
	assert.True(t, c.Has("book", 3))
}

func TestSectionCacheByteBudget(t *testing.T) {
	c := NewSectionCache(100, 0, adapter.NullLogger())

	c.Set(newUnit("book", 1, string(make([]byte, 60))))
	c.Set(newUnit("book", 2, string(make([]byte, 60))))

	assert.False(t, c.Has("book", 1))
	assert.True(t, c.Has("book", 2))
	assert.LessOrEqual(t, c.Bytes(), int64(100))
}

func TestSectionCacheLRUOrderFollowsAccess(t *testing.T) {
	c := NewSectionCache(0, 2, adapter.NullLogger())

	c.Set(newUnit("book", 1, "a"))
	c.Set(newUnit("book", 2, "b"))

	// Touch 1 so 2 becomes the eviction candidate
	_, ok := c.Get("book", 1)
	require.True(t, ok)

	c.Set(newUnit("book", 3, "c"))

	assert.True(t, c.Has("book", 1))
	assert.False(t, c.Has("book", 2))
}

func TestSectionCacheIdleExpiry(t *testing.T) {
	c := NewSectionCache(0, 0, adapter.NullLogger())
	c.SetIdleExpiry(time.Minute)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(newUnit("book", 1, "a"))
	firstCreated := now

	// Within the idle window the entry is alive and access refreshes it
	now = now.Add(30 * time.Second)
	_, ok := c.Get("book", 1)
	require.True(t, ok)

	// Past the idle window it reads as absent and is physically removed
	now = now.Add(2 * time.Minute)
	_, ok = c.Get("book", 1)
	require.False(t, ok)
	assert.Equal(t, 0, c.Len())

	// A fresh Set gets a fresh CreatedAt
	c.Set(newUnit("book", 1, "a"))
	unit, ok := c.Get("book", 1)
	require.True(t, ok)
	assert.True(t, unit.CreatedAt.After(firstCreated))
}

func TestSectionCacheHasRemovesStale(t *testing.T) {
	c := NewSectionCache(0, 0, adapter.NullLogger())
	c.SetIdleExpiry(time.Minute)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(newUnit("book", 1, "a"))
	now = now.Add(2 * time.Minute)

	assert.False(t, c.Has("book", 1))
	assert.Equal(t, 0, c.Len())
}

func TestSectionCacheNoAccessBumpWithoutIdleExpiry(t *testing.T) {
	c := NewSectionCache(0, 0, adapter.NullLogger())

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(newUnit("book", 1, "a"))
	stamped := now

	now = now.Add(time.Hour)
	unit, ok := c.Get("book", 1)
	require.True(t, ok)
	assert.Equal(t, stamped, unit.LastAccess)
}

func TestSectionCacheOnEvict(t *testing.T) {
	c := NewSectionCache(0, 1, adapter.NullLogger())

	var evicted []int
	c.OnEvict(func(u *domain.ContentUnit) {
		evicted = append(evicted, u.Index)
	})

	c.Set(newUnit("book", 1, "a"))
	c.Set(newUnit("book", 2, "b"))
	c.Clear()

	assert.Equal(t, []int{1, 2}, evicted)
}
