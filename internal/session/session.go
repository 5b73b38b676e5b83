// Package session ties one open document to its cache tier, render
// pipeline and reading position. Caches live and die with the session:
// there is no shared global cache state, so closing a session releases
// everything except the persistent store, which outlives sessions and is
// safely shared through per-book key namespacing.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/foliolabs/folio/internal/adapter"
	"github.com/foliolabs/folio/internal/cache"
	"github.com/foliolabs/folio/internal/domain"
	"github.com/foliolabs/folio/internal/progress"
	"github.com/foliolabs/folio/internal/render"
)

// RenderOptions controls a single render request.
type RenderOptions struct {
	Force bool // Skip the bitmap cache
}

// PositionListener receives reading-position updates.
type PositionListener func(p float64)

// Session is a reading session over one open document.
type Session struct {
	id     string
	logger *slog.Logger
	store  domain.PageStore

	sections  *cache.SectionCache
	resources *cache.ResourceCache
	bitmaps   *cache.BitmapCache
	predictor *render.Predictor
	pipeline  *render.Pipeline
	converter *progress.Converter

	generation atomic.Uint64

	mu        sync.Mutex
	book      domain.Book
	decoder   domain.Decoder
	posIndex  domain.PositionIndex
	progress  float64
	listeners []PositionListener
	closed    bool
}

// Open starts a session: opens the decoder, sizes the caches from config
// and wires the pipeline.
func Open(ctx context.Context, book domain.Book, decoder domain.Decoder, store domain.PageStore, cfg *adapter.Config, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = adapter.DefaultConfig()
	}

	if err := decoder.Open(ctx); err != nil {
		return nil, err
	}
	book.TotalUnits = decoder.TotalUnits()

	s := &Session{
		id:       uuid.NewString(),
		logger:   logger,
		store:    store,
		book:     book,
		decoder:  decoder,
		progress: 1,
	}

	const mb = int64(1 << 20)
	s.sections = cache.NewSectionCache(int64(cfg.Cache.SectionBudgetMB)*mb, cfg.Cache.SectionMaxEntries, logger)
	s.resources = cache.NewResourceCache(int64(cfg.Cache.ResourceBudgetMB)*mb, logger)
	s.bitmaps = cache.NewBitmapCache(int64(cfg.Cache.BitmapBudgetMB)*mb, cfg.Cache.BitmapMaxEntries, logger)
	if cfg.Cache.IdleExpirySeconds > 0 {
		idle := time.Duration(cfg.Cache.IdleExpirySeconds) * time.Second
		s.sections.SetIdleExpiry(idle)
		s.resources.SetIdleExpiry(idle)
	}

	s.converter = progress.NewConverter(cfg.Progress.EndFraction, cfg.Progress.BottomThresholdPx)
	s.predictor = render.NewPredictor(cfg.Render.PreloadLookahead)

	interval := time.Duration(cfg.Render.ReadyIntervalMS) * time.Millisecond
	attempts := uint(1)
	if cfg.Render.ReadyIntervalMS > 0 {
		attempts = uint(cfg.Render.ReadyTimeoutMS / cfg.Render.ReadyIntervalMS)
	}
	s.pipeline = render.NewPipeline(decoder, store, s.sections, s.resources, s.bitmaps, s.predictor, s, render.Config{
		ReadyAttempts:    attempts,
		ReadyInterval:    interval,
		ReopenDelay:      interval,
		PreloadLookahead: cfg.Render.PreloadLookahead,
	}, logger)
	s.pipeline.SetTheme(cfg.Render.DefaultTheme)
	s.pipeline.SetScale(cfg.Render.DefaultScale)

	logger.Info("session opened", "sessionID", s.id, "bookID", book.ID, "units", book.TotalUnits)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Book returns the open book.
func (s *Session) Book() domain.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book
}

// Snapshot implements render.Epoch: the live book ID and generation.
func (s *Session) Snapshot() (string, uint64) {
	s.mu.Lock()
	bookID := s.book.ID
	s.mu.Unlock()
	return bookID, s.generation.Load()
}

// RenderUnit renders one unit into the target.
func (s *Session) RenderUnit(ctx context.Context, index int, target domain.DrawTarget, opts RenderOptions) error {
	return s.pipeline.RenderUnit(ctx, index, target, opts.Force)
}

// PreloadRange warms caches for every unit in [start, end]. Best-effort.
func (s *Session) PreloadRange(ctx context.Context, start, end int) {
	s.pipeline.PreloadRange(ctx, start, end)
}

// GoToPosition moves the reading position. The value is clamped into
// [1, totalUnits+endFraction]; listeners fire only on actual movement.
func (s *Session) GoToPosition(p float64) {
	s.mu.Lock()
	clamped := s.converter.Clamp(p, s.book.TotalUnits)
	if clamped == s.progress {
		s.mu.Unlock()
		return
	}
	s.progress = clamped
	listeners := make([]PositionListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.predictor.RecordVisit(domain.UnitIndex(clamped))
	for _, fn := range listeners {
		fn(clamped)
	}
}

// PreciseProgress returns the current reading position.
func (s *Session) PreciseProgress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// OnPositionChanged registers a listener for position updates.
func (s *Session) OnPositionChanged(fn PositionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetPositionIndex installs the layout geometry used for scroll and
// virtual-page conversions. The layout layer calls this after reflow.
func (s *Session) SetPositionIndex(idx domain.PositionIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posIndex = idx
}

// GoToScroll converts a raw scroll offset to a precise position and moves
// there. For chapter-addressed formats the canonical position is
// chapter-precise; otherwise the virtual page position is used directly.
func (s *Session) GoToScroll(scrollTop, maxScrollTop float64) {
	s.mu.Lock()
	idx := s.posIndex
	total := s.book.TotalUnits
	chapterAddressed := s.decoder.Caps().ChapterAddressed
	s.mu.Unlock()

	v := s.converter.VirtualFromScroll(idx, scrollTop, maxScrollTop, total)
	if chapterAddressed && len(idx) > 0 {
		s.GoToPosition(s.converter.ChapterPreciseFromVirtual(v, idx, scrollTop, maxScrollTop))
		return
	}
	s.GoToPosition(v)
}

// VirtualProgress returns the current position in virtual-page form. For
// non-chapter formats this equals PreciseProgress.
func (s *Session) VirtualProgress() float64 {
	s.mu.Lock()
	idx := s.posIndex
	p := s.progress
	chapterAddressed := s.decoder.Caps().ChapterAddressed
	s.mu.Unlock()

	if !chapterAddressed || len(idx) == 0 {
		return p
	}
	return s.converter.VirtualFromChapterPrecise(p, idx)
}

// SetTheme switches the render theme. All cached pixels and decoded units
// are theme-dependent, so both tiers reset and in-flight renders go stale.
func (s *Session) SetTheme(theme string) {
	s.generation.Add(1)
	s.pipeline.SetTheme(theme)
	s.bitmaps.Clear()
	s.sections.Clear()
	s.logger.Debug("theme changed", "theme", theme)
}

// SetScale switches the render scale. Only rasterized output depends on
// scale, so decoded units survive.
func (s *Session) SetScale(scale float64) {
	s.generation.Add(1)
	s.pipeline.SetScale(scale)
	s.bitmaps.Clear()
	s.logger.Debug("scale changed", "scale", scale)
}

// SwitchBook replaces the open document in place. The generation bump
// invalidates every in-flight render for the old book before caches reset.
func (s *Session) SwitchBook(ctx context.Context, book domain.Book, decoder domain.Decoder) error {
	s.generation.Add(1)

	if err := decoder.Open(ctx); err != nil {
		return err
	}
	book.TotalUnits = decoder.TotalUnits()

	s.mu.Lock()
	old := s.decoder
	s.decoder = decoder
	s.book = book
	s.posIndex = nil
	s.progress = 1
	listeners := make([]PositionListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.pipeline.SwapDecoder(decoder)
	s.predictor.Reset()
	s.bitmaps.Clear()
	s.sections.Clear()
	s.resources.Clear()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("failed to close previous decoder", "error", err)
		}
	}

	s.logger.Info("switched book", "bookID", book.ID, "units", book.TotalUnits)
	for _, fn := range listeners {
		fn(1)
	}
	return nil
}

// ClearAllCaches drops the whole memory tier. The persistent store is
// untouched. Idempotent.
func (s *Session) ClearAllCaches() {
	s.sections.Clear()
	s.resources.Clear()
	s.bitmaps.Clear()
	s.logger.Debug("cleared all caches", "sessionID", s.id)
}

// Close ends the session. Idempotent. The shared store stays open; it
// belongs to the caller.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	decoder := s.decoder
	s.mu.Unlock()

	s.generation.Add(1)
	s.ClearAllCaches()

	var err error
	if decoder != nil {
		err = decoder.Close()
	}
	s.logger.Info("session closed", "sessionID", s.id)
	return err
}
