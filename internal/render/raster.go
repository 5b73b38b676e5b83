package render

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/foliolabs/folio/internal/domain"
)

// Base page geometry in layout pixels (US letter at 72dpi). Scaled output
// is produced by resampling the base raster.
const (
	basePageWidth  = 612
	basePageHeight = 792

	pageMargin = 36
	glyphCell  = 8
	lineHeight = 12
)

func themeColors(theme string) (bg, fg color.RGBA) {
	switch theme {
	case "dark":
		return color.RGBA{R: 0x1e, G: 0x1e, B: 0x22, A: 0xff}, color.RGBA{R: 0xd8, G: 0xd8, B: 0xd8, A: 0xff}
	case "sepia":
		return color.RGBA{R: 0xf4, G: 0xec, B: 0xd8, A: 0xff}, color.RGBA{R: 0x5b, G: 0x46, B: 0x36, A: 0xff}
	default: // light
		return color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	}
}

// rasterize turns a decoded unit into a bitmap page at the given scale and
// theme. Glyph shaping is out of scope here; the payload is laid out as
// fixed-pitch ink blocks, which keeps output deterministic for caching.
func rasterize(unit *domain.ContentUnit, scale float64, theme string) *domain.BitmapPage {
	if scale <= 0 {
		scale = 1
	}
	bg, fg := themeColors(theme)

	base := image.NewRGBA(image.Rect(0, 0, basePageWidth, basePageHeight))
	draw.Draw(base, base.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	x, y := pageMargin, pageMargin
	for _, b := range unit.Payload {
		if b == '\n' || x > basePageWidth-pageMargin-glyphCell {
			x = pageMargin
			y += lineHeight
			if y > basePageHeight-pageMargin-lineHeight {
				break
			}
			if b == '\n' {
				continue
			}
		}
		if b != ' ' && b != '\t' {
			ink := image.Rect(x, y, x+glyphCell-2, y+lineHeight-4)
			draw.Draw(base, ink, &image.Uniform{C: fg}, image.Point{}, draw.Src)
		}
		x += glyphCell
	}

	out := base
	if scale != 1 {
		w := int(float64(basePageWidth) * scale)
		h := int(float64(basePageHeight) * scale)
		out = image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(out, out.Bounds(), base, base.Bounds(), xdraw.Src, nil)
	}

	return &domain.BitmapPage{
		Index:  unit.Index,
		Scale:  scale,
		Theme:  theme,
		Pixels: out.Pix,
		Width:  out.Rect.Dx(),
		Height: out.Rect.Dy(),
	}
}
