package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliolabs/folio/internal/adapter"
	"github.com/foliolabs/folio/internal/domain"
	"github.com/foliolabs/folio/internal/render"
	"github.com/foliolabs/folio/internal/store"
)

type stubDecoder struct {
	mu     sync.Mutex
	total  int
	caps   domain.FormatCaps
	closed bool
}

func (d *stubDecoder) Open(ctx context.Context) error   { return nil }
func (d *stubDecoder) Reopen(ctx context.Context) error { return nil }
func (d *stubDecoder) Ready() bool                      { return true }
func (d *stubDecoder) Caps() domain.FormatCaps          { return d.caps }
func (d *stubDecoder) TotalUnits() int                  { return d.total }

func (d *stubDecoder) LoadUnit(ctx context.Context, bookID string, index int) (*domain.UnitContent, error) {
	return &domain.UnitContent{Payload: []byte("chapter body")}, nil
}

func (d *stubDecoder) LoadResource(ctx context.Context, bookID, path string) (*domain.ResourceData, error) {
	return nil, domain.ErrResourceNotFound
}

func (d *stubDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *stubDecoder) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func newTestSession(t *testing.T, decoder domain.Decoder) *Session {
	t.Helper()
	logger := adapter.NullLogger()
	st := store.NewBoltStore("", logger)
	t.Cleanup(func() { st.Close() })

	s, err := Open(context.Background(), domain.Book{ID: "book1", Title: "Test"}, decoder, st, adapter.DefaultConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenPopulatesBook(t *testing.T) {
	s := newTestSession(t, &stubDecoder{total: 12})

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, 12, s.Book().TotalUnits)
	assert.Equal(t, 1.0, s.PreciseProgress())
}

func TestGoToPositionClamps(t *testing.T) {
	s := newTestSession(t, &stubDecoder{total: 10})

	s.GoToPosition(0.2)
	assert.Equal(t, 1.0, s.PreciseProgress())

	s.GoToPosition(42)
	assert.InDelta(t, 10.999999, s.PreciseProgress(), 1e-9)

	s.GoToPosition(5.5)
	assert.Equal(t, 5.5, s.PreciseProgress())
}

func TestPositionListenerFiresOnMovementOnly(t *testing.T) {
	s := newTestSession(t, &stubDecoder{total: 10})

	var got []float64
	s.OnPositionChanged(func(p float64) { got = append(got, p) })

	s.GoToPosition(2.5)
	s.GoToPosition(2.5) // no movement, no callback
	s.GoToPosition(3)

	assert.Equal(t, []float64{2.5, 3}, got)
}

func TestRenderUnitDrawsToTarget(t *testing.T) {
	s := newTestSession(t, &stubDecoder{total: 3})

	target := render.NewImageTarget(100, 130)
	require.NoError(t, s.RenderUnit(context.Background(), 1, target, RenderOptions{}))
	assert.Equal(t, 1, target.Draws())
}

func TestSetThemeInvalidatesRenderedOutput(t *testing.T) {
	// A single-unit document keeps background preloads out of the picture
	s := newTestSession(t, &stubDecoder{total: 1})

	target := render.NewImageTarget(100, 130)
	require.NoError(t, s.RenderUnit(context.Background(), 1, target, RenderOptions{}))

	_, gen0 := s.Snapshot()
	s.SetTheme("dark")
	_, gen1 := s.Snapshot()

	assert.Greater(t, gen1, gen0)
	assert.Equal(t, 0, s.bitmaps.Len())
	assert.Equal(t, 0, s.sections.Len())
}

func TestSetScaleKeepsDecodedUnits(t *testing.T) {
	s := newTestSession(t, &stubDecoder{total: 1})

	target := render.NewImageTarget(100, 130)
	require.NoError(t, s.RenderUnit(context.Background(), 1, target, RenderOptions{}))

	s.SetScale(2.0)

	assert.Equal(t, 0, s.bitmaps.Len())
	assert.Equal(t, 1, s.sections.Len(), "decoded units survive a scale change")
}

func TestGoToScrollChapterPrecise(t *testing.T) {
	s := newTestSession(t, &stubDecoder{
		total: 2,
		caps:  domain.FormatCaps{SupportsContinuousScroll: true, ChapterAddressed: true},
	})

	// Two chapters over four 800px virtual pages
	s.SetPositionIndex(domain.PositionIndex{
		{Top: 0, Height: 800, Chapter: 1},
		{Top: 800, Height: 800, Chapter: 1},
		{Top: 1600, Height: 800, Chapter: 2},
		{Top: 2400, Height: 800, Chapter: 2},
	})

	// Mid-document scroll lands mid-chapter
	s.GoToScroll(800, 3200)
	assert.InDelta(t, 1.5, s.PreciseProgress(), 1e-9)

	// Near the absolute bottom the last chapter reads as finished
	s.GoToScroll(3170, 3200)
	assert.InDelta(t, 2.999999, s.PreciseProgress(), 1e-9)
}

func TestVirtualProgressMapsChapterPosition(t *testing.T) {
	s := newTestSession(t, &stubDecoder{
		total: 2,
		caps:  domain.FormatCaps{SupportsContinuousScroll: true, ChapterAddressed: true},
	})
	s.SetPositionIndex(domain.PositionIndex{
		{Top: 0, Height: 800, Chapter: 1},
		{Top: 800, Height: 800, Chapter: 1},
		{Top: 1600, Height: 800, Chapter: 2},
		{Top: 2400, Height: 800, Chapter: 2},
	})

	// Halfway through chapter 2 is the start of virtual page 4
	s.GoToPosition(2.5)
	assert.InDelta(t, 4.0, s.VirtualProgress(), 1e-9)
}

func TestVirtualProgressWithoutIndexPassesThrough(t *testing.T) {
	s := newTestSession(t, &stubDecoder{total: 10})

	s.GoToPosition(4.25)
	assert.Equal(t, 4.25, s.VirtualProgress())
}

func TestSwitchBookResetsState(t *testing.T) {
	first := &stubDecoder{total: 10}
	s := newTestSession(t, first)

	s.GoToPosition(7.5)
	_, gen0 := s.Snapshot()

	var notified []float64
	s.OnPositionChanged(func(p float64) { notified = append(notified, p) })

	second := &stubDecoder{total: 4}
	require.NoError(t, s.SwitchBook(context.Background(), domain.Book{ID: "book2", Title: "Next"}, second))

	book, gen1 := s.Snapshot()
	assert.Equal(t, "book2", book)
	assert.Greater(t, gen1, gen0)
	assert.Equal(t, 1.0, s.PreciseProgress())
	assert.Equal(t, 4, s.Book().TotalUnits)
	assert.Equal(t, []float64{1}, notified)
	assert.True(t, first.isClosed())
}

func TestClearAllCaches(t *testing.T) {
	s := newTestSession(t, &stubDecoder{total: 1})

	target := render.NewImageTarget(100, 130)
	require.NoError(t, s.RenderUnit(context.Background(), 1, target, RenderOptions{}))

	s.ClearAllCaches()
	s.ClearAllCaches() // idempotent

	assert.Equal(t, 0, s.sections.Len())
	assert.Equal(t, 0, s.bitmaps.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	d := &stubDecoder{total: 3}
	s := newTestSession(t, d)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, d.isClosed())
}
