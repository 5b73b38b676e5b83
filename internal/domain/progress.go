package domain

import "math"

// Progress is a reading position: integer part is the 1-based unit index,
// fraction is the normalized offset within that unit. Valid range is
// [1, totalUnits+endFraction]; it never reaches totalUnits+1.
type Progress = float64

// UnitIndex returns the 1-based unit index of a progress value.
func UnitIndex(p Progress) int {
	return int(math.Floor(p))
}

// Fraction returns the in-unit offset of a progress value.
func Fraction(p Progress) float64 {
	return p - math.Floor(p)
}

// VirtualPage is one entry of the position index: the layout geometry of a
// single virtual page, tagged with its owning chapter.
type VirtualPage struct {
	Top     float64 // Absolute top offset in layout pixels
	Height  float64 // Page height in layout pixels
	Chapter int     // 1-based owning chapter
}

// PositionIndex is the ordered list of virtual pages spanning all merged
// chapters of a continuously-scrolled document.
type PositionIndex []VirtualPage

// ChapterCount returns the highest chapter number in the index.
func (idx PositionIndex) ChapterCount() int {
	if len(idx) == 0 {
		return 0
	}
	count := 0
	for _, p := range idx {
		if p.Chapter > count {
			count = p.Chapter
		}
	}
	return count
}

// ChapterRun returns the contiguous run [first, last] of virtual page
// positions (0-based) tagged with the given chapter, or ok=false when the
// chapter does not appear in the index.
func (idx PositionIndex) ChapterRun(chapter int) (first, last int, ok bool) {
	first, last = -1, -1
	for i, p := range idx {
		if p.Chapter != chapter {
			continue
		}
		if first == -1 {
			first = i
		}
		last = i
	}
	return first, last, first != -1
}
