package render

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"golang.org/x/sync/singleflight"

	"github.com/foliolabs/folio/internal/cache"
	"github.com/foliolabs/folio/internal/domain"
)

// Epoch reports the live document identity. Renders capture a snapshot
// before their first suspension point and compare it again before any
// side-effecting write; a mismatch means the result is stale and discarded.
type Epoch interface {
	Snapshot() (bookID string, generation uint64)
}

// Config tunes pipeline behavior.
type Config struct {
	// ReadyAttempts and ReadyInterval bound the wait for a scroll-mode
	// document to finish loading (fixed-interval polling).
	ReadyAttempts uint
	ReadyInterval time.Duration

	// ReopenDelay spaces the single lazy reopen retry after a decode
	// failure on a closed document.
	ReopenDelay time.Duration

	// PreloadLookahead is how many predicted units to warm per render.
	PreloadLookahead int
}

// DefaultConfig returns the default pipeline tuning.
func DefaultConfig() Config {
	return Config{
		ReadyAttempts:    50,
		ReadyInterval:    100 * time.Millisecond,
		ReopenDelay:      100 * time.Millisecond,
		PreloadLookahead: defaultLookahead,
	}
}

// Pipeline orchestrates decode, cache and draw for one document session.
// At most one render is in flight per unit index: concurrent callers for
// the same unit share a single decode. Distinct indices render freely in
// parallel.
type Pipeline struct {
	decoder   domain.Decoder
	store     domain.PageStore
	sections  *cache.SectionCache
	resources *cache.ResourceCache
	bitmaps   *cache.BitmapCache
	predictor *Predictor
	epoch     Epoch
	cfg       Config
	logger    *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	theme   string
	scale   float64
	handles map[string][]*cache.ResourceHandle // resource handles owned by cached units
}

// NewPipeline wires a pipeline over the session's caches. The section
// cache's evict hook is claimed here so units leaving the cache release
// their shared-resource references.
func NewPipeline(
	decoder domain.Decoder,
	store domain.PageStore,
	sections *cache.SectionCache,
	resources *cache.ResourceCache,
	bitmaps *cache.BitmapCache,
	predictor *Predictor,
	epoch Epoch,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyAttempts == 0 {
		cfg = DefaultConfig()
	}
	p := &Pipeline{
		decoder:   decoder,
		store:     store,
		sections:  sections,
		resources: resources,
		bitmaps:   bitmaps,
		predictor: predictor,
		epoch:     epoch,
		cfg:       cfg,
		logger:    logger,
		theme:     "light",
		scale:     1,
		handles:   make(map[string][]*cache.ResourceHandle),
	}
	sections.OnEvict(p.releaseUnitHandles)
	return p
}

// SetTheme changes the render theme. The owner is responsible for clearing
// the bitmap cache and bumping the generation.
func (p *Pipeline) SetTheme(theme string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.theme = theme
}

// SetScale changes the render scale. Same invalidation contract as SetTheme.
func (p *Pipeline) SetScale(scale float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scale = scale
}

func (p *Pipeline) view() (theme string, scale float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.theme, p.scale
}

// SwapDecoder replaces the decoder on a document switch.
func (p *Pipeline) SwapDecoder(decoder domain.Decoder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decoder = decoder
}

func (p *Pipeline) currentDecoder() domain.Decoder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decoder
}

// RenderUnit renders one unit to the target. Unless forced, a bitmap cache
// hit short-circuits decoding but still schedules predicted preloads. A
// stale result (document or generation changed mid-flight) is discarded
// silently; a failed render leaves the target's previous frame untouched.
func (p *Pipeline) RenderUnit(ctx context.Context, index int, target domain.DrawTarget, force bool) error {
	book, gen := p.epoch.Snapshot()
	theme, scale := p.view()

	if !force {
		if page, ok := p.bitmaps.Get(index, scale, theme); ok {
			if err := target.Draw(page.Pixels, page.Width, page.Height); err != nil {
				return err
			}
			p.predictor.RecordVisit(index)
			go p.preloadPredicted(index)
			return nil
		}
	}

	v, err, _ := p.group.Do(renderKey(index), func() (interface{}, error) {
		return p.renderMiss(ctx, book, gen, index, theme, scale)
	})
	if err != nil {
		p.logger.Error("render failed", "index", index, "bookID", book, "error", err)
		return err
	}

	page, ok := v.(*domain.BitmapPage)
	if !ok || page == nil {
		// Stale discard or not-ready skip: not an error, nothing drawn
		return nil
	}

	if err := target.Draw(page.Pixels, page.Width, page.Height); err != nil {
		return err
	}
	p.predictor.RecordVisit(index)
	go p.preloadPredicted(index)
	return nil
}

// renderMiss is the slow path: fetch (section cache, store, decoder in that
// order), rasterize, then commit to the caches unless the epoch moved.
func (p *Pipeline) renderMiss(ctx context.Context, book string, gen uint64, index int, theme string, scale float64) (*domain.BitmapPage, error) {
	decoder := p.currentDecoder()

	if decoder.Caps().SupportsContinuousScroll && !decoder.Ready() {
		if err := p.WaitReady(ctx); err != nil {
			// Bounded wait exceeded: reported, non-fatal skip
			p.logger.Warn("document load wait timed out, skipping render", "index", index, "bookID", book)
			return nil, nil
		}
	}

	unit, fromCache := p.sections.Get(book, index)
	if !fromCache {
		if stored, ok := p.store.GetUnit(book, index); ok {
			unit = stored
		} else {
			content, err := p.loadUnit(ctx, decoder, book, index)
			if err != nil {
				return nil, err
			}
			unit = &domain.ContentUnit{
				BookID:       book,
				Index:        index,
				Payload:      content.Payload,
				StyleRefs:    content.StyleRefs,
				ResourceRefs: content.ResourceRefs,
			}
			if err := p.store.PutUnit(unit); err != nil {
				p.logger.Warn("failed to persist unit", "index", index, "error", err)
			}
		}
	}

	handles := p.acquireResources(ctx, decoder, book, unit)
	committed := false
	defer func() {
		if !committed {
			releaseAll(handles)
		}
	}()

	page := rasterize(unit, scale, theme)

	// Staleness guard: nothing below may run for a superseded document
	if liveBook, liveGen := p.epoch.Snapshot(); liveBook != book || liveGen != gen {
		p.logger.Debug("discarding stale render", "index", index, "bookID", book, "generation", gen)
		return nil, nil
	}

	if !fromCache {
		// The cached unit takes ownership of the resource handles; the
		// evict hook releases them when the unit leaves the cache.
		p.trackHandles(book, index, handles)
		committed = true
		p.sections.Set(unit)
	}
	p.bitmaps.Set(page)
	return page, nil
}

// loadUnit decodes one unit, recovering exactly once from a closed
// document via lazy reopen. Any further failure surfaces to the caller.
func (p *Pipeline) loadUnit(ctx context.Context, decoder domain.Decoder, book string, index int) (*domain.UnitContent, error) {
	var content *domain.UnitContent
	err := retry.Do(
		func() error {
			c, err := decoder.LoadUnit(ctx, book, index)
			if err != nil {
				return err
			}
			content = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(p.cfg.ReopenDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrDocumentClosed)
		}),
		retry.OnRetry(func(_ uint, err error) {
			p.logger.Debug("reopening document after failed decode", "index", index, "error", err)
			if rerr := decoder.Reopen(ctx); rerr != nil {
				p.logger.Warn("document reopen failed", "error", rerr)
			}
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// WaitReady polls until the decoder reports a loaded document, bounded by
// the configured attempt count and fixed interval.
func (p *Pipeline) WaitReady(ctx context.Context) error {
	err := retry.Do(
		func() error {
			if p.currentDecoder().Ready() {
				return nil
			}
			return domain.ErrLoadTimeout
		},
		retry.Context(ctx),
		retry.Attempts(p.cfg.ReadyAttempts),
		retry.Delay(p.cfg.ReadyInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return domain.ErrLoadTimeout
	}
	return nil
}

// acquireResources resolves every style and resource reference of a unit:
// resource cache first, then store, then decoder. Failures are logged and
// skipped; a missing image never fails the render.
func (p *Pipeline) acquireResources(ctx context.Context, decoder domain.Decoder, book string, unit *domain.ContentUnit) []*cache.ResourceHandle {
	refs := make([]string, 0, len(unit.StyleRefs)+len(unit.ResourceRefs))
	refs = append(refs, unit.StyleRefs...)
	refs = append(refs, unit.ResourceRefs...)

	var handles []*cache.ResourceHandle
	for _, path := range refs {
		if h, ok := p.resources.Acquire(book, path); ok {
			handles = append(handles, h)
			continue
		}
		if res, ok := p.store.GetResource(book, path); ok {
			handles = append(handles, p.resources.Set(res))
			continue
		}
		data, err := decoder.LoadResource(ctx, book, path)
		if err != nil {
			p.logger.Warn("resource load failed", "path", path, "error", err)
			continue
		}
		res := &domain.SharedResource{BookID: book, Path: path, Data: data.Data, MIMEType: data.MIMEType}
		if err := p.store.PutResource(res); err != nil {
			p.logger.Warn("failed to persist resource", "path", path, "error", err)
		}
		handles = append(handles, p.resources.Set(res))
	}
	return handles
}

// Preload warms the section and bitmap caches for the given units.
// Best-effort: errors are logged, never surfaced.
func (p *Pipeline) Preload(ctx context.Context, indices ...int) {
	book, gen := p.epoch.Snapshot()
	theme, scale := p.view()
	total := p.currentDecoder().TotalUnits()

	for _, index := range indices {
		if index < 1 || (total > 0 && index > total) {
			continue
		}
		if _, ok := p.bitmaps.Get(index, scale, theme); ok {
			continue
		}
		_, err, _ := p.group.Do(renderKey(index), func() (interface{}, error) {
			return p.renderMiss(ctx, book, gen, index, theme, scale)
		})
		if err != nil {
			p.logger.Debug("preload failed", "index", index, "error", err)
		}
	}
}

// PreloadRange warms every unit in [start, end].
func (p *Pipeline) PreloadRange(ctx context.Context, start, end int) {
	if start > end {
		start, end = end, start
	}
	indices := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		indices = append(indices, i)
	}
	p.Preload(ctx, indices...)
}

func (p *Pipeline) preloadPredicted(current int) {
	decoder := p.currentDecoder()
	predicted := p.predictor.PredictNext(current, decoder.TotalUnits(), decoder.Caps())
	if len(predicted) == 0 {
		return
	}
	p.Preload(context.Background(), predicted...)
}

// === Resource handle bookkeeping ===

func (p *Pipeline) trackHandles(book string, index int, handles []*cache.ResourceHandle) {
	if len(handles) == 0 {
		return
	}
	key := book + ":" + strconv.Itoa(index)
	p.mu.Lock()
	p.handles[key] = append(p.handles[key], handles...)
	p.mu.Unlock()
}

// releaseUnitHandles runs from the section cache's evict hook.
func (p *Pipeline) releaseUnitHandles(unit *domain.ContentUnit) {
	key := unit.BookID + ":" + strconv.Itoa(unit.Index)
	p.mu.Lock()
	handles := p.handles[key]
	delete(p.handles, key)
	p.mu.Unlock()
	releaseAll(handles)
}

func releaseAll(handles []*cache.ResourceHandle) {
	for _, h := range handles {
		h.Release()
	}
}

// renderKey serializes renders per unit index. Theme/scale changes bump
// the generation, so a render keyed only by index can never commit a frame
// for a superseded view.
func renderKey(index int) string {
	return strconv.Itoa(index)
}
