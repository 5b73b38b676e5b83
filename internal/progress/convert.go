// Package progress converts reading positions between the three addressing
// schemes of chapter-based documents: raw scroll offset (layout pixels),
// virtual-precise (continuous page numbering across merged chapters), and
// chapter-precise (integer chapter + normalized in-chapter fraction).
package progress

import (
	"math"
	"sort"

	"github.com/foliolabs/folio/internal/domain"
)

// Default tuning values. Both are layout heuristics, not derived limits,
// and can be overridden per converter.
const (
	// DefaultEndFraction is the largest in-unit fraction a progress value
	// can carry; progress never reaches unitIndex+1.
	DefaultEndFraction = 0.999999

	// DefaultBottomThresholdPx is how close to the absolute bottom (in
	// layout pixels) counts as "finished" for the last chapter.
	DefaultBottomThresholdPx = 50.0
)

// Converter performs position conversions over a position index.
type Converter struct {
	endFraction       float64
	bottomThresholdPx float64
}

// NewConverter creates a converter. Zero arguments select the defaults.
func NewConverter(endFraction, bottomThresholdPx float64) *Converter {
	if endFraction <= 0 || endFraction >= 1 {
		endFraction = DefaultEndFraction
	}
	if bottomThresholdPx <= 0 {
		bottomThresholdPx = DefaultBottomThresholdPx
	}
	return &Converter{endFraction: endFraction, bottomThresholdPx: bottomThresholdPx}
}

// EndFraction returns the configured end-of-unit fraction.
func (c *Converter) EndFraction() float64 {
	return c.endFraction
}

// Clamp bounds a progress value to [1, total+endFraction].
func (c *Converter) Clamp(p float64, total int) float64 {
	if total < 1 {
		total = 1
	}
	if p < 1 {
		return 1
	}
	if max := float64(total) + c.endFraction; p > max {
		return max
	}
	return p
}

// VirtualFromScroll locates the virtual page owning scrollTop via binary
// search over the position index.
//
// Degenerate fallbacks: an empty index yields a coarse scrollTop/maxScrollTop
// ratio scaled across totalVirtual pages; maxScrollTop <= 0 pins to the
// first unit.
func (c *Converter) VirtualFromScroll(idx domain.PositionIndex, scrollTop, maxScrollTop float64, totalVirtual int) float64 {
	if len(idx) == 0 {
		if maxScrollTop <= 0 {
			return 1
		}
		ratio := scrollTop / maxScrollTop
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		return c.Clamp(1+ratio*float64(totalVirtual), totalVirtual)
	}

	// First page whose bottom edge is below scrollTop
	i := sort.Search(len(idx), func(i int) bool {
		return idx[i].Top+idx[i].Height > scrollTop
	})
	if i == len(idx) {
		return float64(len(idx)) + c.endFraction
	}

	frac := 0.0
	if idx[i].Height > 0 {
		frac = (scrollTop - idx[i].Top) / idx[i].Height
	}
	if frac < 0 {
		frac = 0
	}
	if frac > c.endFraction {
		frac = c.endFraction
	}
	return float64(i+1) + frac
}

// ScrollFromVirtual is the inverse of VirtualFromScroll: the absolute
// scroll offset for a virtual-precise position.
func (c *Converter) ScrollFromVirtual(idx domain.PositionIndex, v float64) float64 {
	if len(idx) == 0 {
		return 0
	}
	page := domain.UnitIndex(v) - 1
	if page < 0 {
		page = 0
	}
	if page >= len(idx) {
		page = len(idx) - 1
	}
	return idx[page].Top + domain.Fraction(v)*idx[page].Height
}

// VirtualFromChapterPrecise maps a chapter-precise position onto the
// continuous virtual page numbering: the fractional offset is interpolated
// linearly across the contiguous run of virtual pages tagged with the
// chapter.
func (c *Converter) VirtualFromChapterPrecise(p float64, idx domain.PositionIndex) float64 {
	chapter := domain.UnitIndex(p)
	frac := domain.Fraction(p)

	first, last, ok := idx.ChapterRun(chapter)
	if !ok {
		return c.Clamp(p, len(idx))
	}

	run := float64(last - first + 1)
	pos := frac * run
	page := first + int(math.Floor(pos))
	if page > last {
		page = last
	}
	inPage := pos - math.Floor(pos)
	if inPage > c.endFraction {
		inPage = c.endFraction
	}
	return float64(page+1) + inPage
}

// ChapterPreciseFromVirtual maps a virtual-precise position back to
// chapter-precise form. When the owning chapter is the last one and the
// scroll position sits within the bottom threshold of the absolute bottom,
// the result is forced to chapterCount+endFraction so "finished" stays
// reachable despite layout rounding.
func (c *Converter) ChapterPreciseFromVirtual(v float64, idx domain.PositionIndex, scrollTop, maxScrollTop float64) float64 {
	if len(idx) == 0 {
		return 1
	}

	page := domain.UnitIndex(v) - 1
	if page < 0 {
		page = 0
	}
	if page >= len(idx) {
		page = len(idx) - 1
	}
	chapter := idx[page].Chapter
	chapterCount := idx.ChapterCount()

	if chapter == chapterCount && maxScrollTop > 0 && maxScrollTop-scrollTop <= c.bottomThresholdPx {
		return float64(chapterCount) + c.endFraction
	}

	first, last, _ := idx.ChapterRun(chapter)
	run := float64(last - first + 1)
	frac := (float64(page-first) + domain.Fraction(v)) / run
	if frac < 0 {
		frac = 0
	}
	if frac > c.endFraction {
		frac = c.endFraction
	}
	return float64(chapter) + frac
}
