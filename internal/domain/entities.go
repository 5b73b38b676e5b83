package domain

import "time"

// Format identifies the document format behind a decoder
type Format int

const (
	FormatPDF Format = iota
	FormatMarkdown
	FormatEPUB
)

// FormatCaps declares what a decoder can do. The pipeline branches on these
// flags, never on the concrete decoder type.
type FormatCaps struct {
	SupportsContinuousScroll bool // content flows as one scrollable column
	ChapterAddressed         bool // units are chapters, not fixed pages
}

// Book identifies one open document
type Book struct {
	ID         string // Stable identifier, also the persistent-store key prefix
	Title      string // Display title
	Path       string // Source file path
	Format     Format // Decoder format
	TotalUnits int    // Page or chapter count, known after decoder open
}

// ContentUnit is the smallest cacheable piece of decoded content.
// Immutable after creation except for access-time bumps; recreated from
// scratch when the theme changes.
type ContentUnit struct {
	BookID       string    // Owning book
	Index        int       // 1-based unit index
	Payload      []byte    // Decoded content (styled fragment or page data)
	StyleRefs    []string  // Stylesheet paths referenced by the payload
	ResourceRefs []string  // Shared resource paths referenced by the payload
	Size         int64     // Memory estimate in bytes
	CreatedAt    time.Time // When first decoded
	LastAccess   time.Time // Bumped on cache reads when idle expiry is on
}

// EstimateSize computes the memory footprint estimate for a unit payload
// plus its reference lists.
func EstimateSize(payload []byte, styleRefs, resourceRefs []string) int64 {
	size := int64(len(payload))
	for _, r := range styleRefs {
		size += int64(len(r))
	}
	for _, r := range resourceRefs {
		size += int64(len(r))
	}
	return size
}

// SharedResource is a binary sub-resource (image, font, stylesheet)
// referenced by one or more content units. Reference counting lives in the
// resource cache, not here.
type SharedResource struct {
	BookID     string    // Owning book
	Path       string    // Resource path within the book
	Data       []byte    // Raw bytes
	MIMEType   string    // e.g. "image/png"
	LastAccess time.Time // Bumped on cache reads when idle expiry is on
}

// Size returns the memory estimate for the resource.
func (r *SharedResource) Size() int64 {
	return int64(len(r.Data)) + int64(len(r.Path))
}

// BitmapKey addresses one rasterized page in the bitmap cache.
type BitmapKey struct {
	Index int     // Unit index
	Scale float64 // Render scale factor
	Theme string  // Theme key ("light", "dark", "sepia")
}

// BitmapPage is rasterized output for one unit at one scale and theme.
type BitmapPage struct {
	Index  int
	Scale  float64
	Theme  string
	Pixels []byte // RGBA buffer, Width*Height*4 bytes
	Width  int
	Height int
}

// Size returns the pixel buffer size estimate.
func (b *BitmapPage) Size() int64 {
	return int64(len(b.Pixels))
}

// Key returns the cache key for this page.
func (b *BitmapPage) Key() BitmapKey {
	return BitmapKey{Index: b.Index, Scale: b.Scale, Theme: b.Theme}
}
