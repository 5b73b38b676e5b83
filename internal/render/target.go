package render

import (
	"fmt"
	"image"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// ImageTarget is an in-memory draw target backed by an RGBA image. The CLI
// and tests use it; a real UI supplies its own domain.DrawTarget.
type ImageTarget struct {
	mu    sync.Mutex
	img   *image.RGBA
	draws int
}

// NewImageTarget creates a target with the given dimensions.
func NewImageTarget(width, height int) *ImageTarget {
	return &ImageTarget{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Draw blits a bitmap onto the target, resampling when dimensions differ.
func (t *ImageTarget) Draw(pixels []byte, width, height int) error {
	if len(pixels) < width*height*4 {
		return fmt.Errorf("short pixel buffer: got %d bytes for %dx%d", len(pixels), width, height)
	}

	src := &image.RGBA{Pix: pixels, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}

	t.mu.Lock()
	defer t.mu.Unlock()

	if b := t.img.Bounds(); b.Dx() == width && b.Dy() == height {
		copy(t.img.Pix, pixels)
	} else {
		xdraw.ApproxBiLinear.Scale(t.img, t.img.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	}
	t.draws++
	return nil
}

// Bounds returns the target dimensions.
func (t *ImageTarget) Bounds() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.img.Bounds()
	return b.Dx(), b.Dy()
}

// Image returns the backing image.
func (t *ImageTarget) Image() *image.RGBA {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.img
}

// Draws returns how many frames have been drawn, for tests.
func (t *ImageTarget) Draws() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draws
}
