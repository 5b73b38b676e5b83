package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliolabs/folio/internal/adapter"
	"github.com/foliolabs/folio/internal/domain"
)

func newPage(index int, scale float64, theme string, size int) *domain.BitmapPage {
	return &domain.BitmapPage{Index: index, Scale: scale, Theme: theme, Pixels: make([]byte, size), Width: 1, Height: size / 4}
}

func TestBitmapCacheKeyDistinctness(t *testing.T) {
	c := NewBitmapCache(0, 0, adapter.NullLogger())

	c.Set(newPage(1, 1.0, "light", 16))
	c.Set(newPage(1, 2.0, "light", 16))
	c.Set(newPage(1, 1.0, "dark", 16))

	assert.Equal(t, 3, c.Len())

	_, ok := c.Get(1, 1.0, "light")
	assert.True(t, ok)
	_, ok = c.Get(1, 1.5, "light")
	assert.False(t, ok)
	_, ok = c.Get(1, 1.0, "sepia")
	assert.False(t, ok)
}

func TestBitmapCacheEntryCeiling(t *testing.T) {
	c := NewBitmapCache(0, 2, adapter.NullLogger())

	c.Set(newPage(1, 1.0, "light", 16))
	c.Set(newPage(2, 1.0, "light", 16))

	// Touch 1 so 2 becomes the eviction candidate
	_, ok := c.Get(1, 1.0, "light")
	require.True(t, ok)

	c.Set(newPage(3, 1.0, "light", 16))

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(1, 1.0, "light")
	assert.True(t, ok)
	_, ok = c.Get(2, 1.0, "light")
	assert.False(t, ok)
}

func TestBitmapCacheByteBudget(t *testing.T) {
	c := NewBitmapCache(100, 0, adapter.NullLogger())

	c.Set(newPage(1, 1.0, "light", 60))
	c.Set(newPage(2, 1.0, "light", 60))

	_, ok := c.Get(1, 1.0, "light")
	assert.False(t, ok)
	_, ok = c.Get(2, 1.0, "light")
	assert.True(t, ok)
	assert.LessOrEqual(t, c.Bytes(), int64(100))
}

func TestBitmapCacheReplaceSameKey(t *testing.T) {
	c := NewBitmapCache(0, 0, adapter.NullLogger())

	c.Set(newPage(1, 1.0, "light", 16))
	c.Set(newPage(1, 1.0, "light", 32))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(32), c.Bytes())
}

func TestBitmapCacheClear(t *testing.T) {
	c := NewBitmapCache(0, 0, adapter.NullLogger())

	c.Set(newPage(1, 1.0, "light", 16))
	c.Set(newPage(2, 1.0, "dark", 16))
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Bytes())
	_, ok := c.Get(1, 1.0, "light")
	assert.False(t, ok)
}
