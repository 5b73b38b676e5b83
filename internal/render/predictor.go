package render

import (
	"sync"

	"github.com/foliolabs/folio/internal/domain"
)

const (
	historyWindow    = 8
	jumpThreshold    = 3
	defaultLookahead = 2
)

// Predictor infers where the reader is heading from recent unit visits and
// suggests units worth preloading. Predictions are best-effort hints; the
// pipeline swallows any preload failure they cause.
type Predictor struct {
	mu        sync.Mutex
	history   []int
	lookahead int
}

// NewPredictor creates a predictor suggesting up to lookahead units.
func NewPredictor(lookahead int) *Predictor {
	if lookahead <= 0 {
		lookahead = defaultLookahead
	}
	return &Predictor{lookahead: lookahead}
}

// RecordVisit appends a unit visit to the history window.
func (p *Predictor) RecordVisit(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.history); n > 0 && p.history[n-1] == index {
		return
	}
	p.history = append(p.history, index)
	if len(p.history) > historyWindow {
		p.history = p.history[len(p.history)-historyWindow:]
	}
}

// Reset clears the history, e.g. when the document changes.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
}

// PredictNext returns the ordered unit indices to preload around current.
// With no navigation signal the fallback is the next two units forward.
func (p *Predictor) PredictNext(current, total int, caps domain.FormatCaps) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	step := 1 // forward by default
	both := false

	if n := len(p.history); n >= 2 {
		delta := p.history[n-1] - p.history[n-2]
		switch {
		case delta < 0 && delta >= -jumpThreshold:
			step = -1
		case delta > jumpThreshold || delta < -jumpThreshold:
			// Jump navigation (TOC, go-to): reader direction is unknown,
			// so warm both neighbors
			both = true
		}
	}

	var candidates []int
	if both {
		for i := 1; i <= p.lookahead; i++ {
			candidates = append(candidates, current+i, current-i)
		}
	} else {
		for i := 1; i <= p.lookahead; i++ {
			candidates = append(candidates, current+i*step)
		}
	}

	out := make([]int, 0, len(candidates))
	for _, idx := range candidates {
		if idx < 1 || idx > total || idx == current {
			continue
		}
		out = append(out, idx)
	}
	return out
}
