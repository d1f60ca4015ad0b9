package st7735

import "image"

// FrameBuffer is a row-major array of RGB565 pixels. It is the source of
// truth for the panel content; the driver only reads it.
type FrameBuffer struct {
	Pix []uint16
	// Stride is the distance in pixels between vertically adjacent pixels.
	Stride int
	Rect   image.Rectangle
}

// NewFrameBuffer returns a zeroed (black) frame buffer covering r.
func NewFrameBuffer(r image.Rectangle) *FrameBuffer {
	return &FrameBuffer{
		Pix:    make([]uint16, r.Dx()*r.Dy()),
		Stride: r.Dx(),
		Rect:   r,
	}
}

// Bounds returns the area covered by the buffer.
func (fb *FrameBuffer) Bounds() image.Rectangle { return fb.Rect }

// PixOffset returns the index of the pixel at (x, y).
func (fb *FrameBuffer) PixOffset(x, y int) int {
	return (y-fb.Rect.Min.Y)*fb.Stride + (x - fb.Rect.Min.X)
}

// RGB565At returns the pixel at (x, y), or 0 outside the buffer.
func (fb *FrameBuffer) RGB565At(x, y int) uint16 {
	if !(image.Point{x, y}.In(fb.Rect)) {
		return 0
	}
	return fb.Pix[fb.PixOffset(x, y)]
}

// SetRGB565 stores v at (x, y). Points outside the buffer are ignored.
func (fb *FrameBuffer) SetRGB565(x, y int, v uint16) {
	if !(image.Point{x, y}.In(fb.Rect)) {
		return
	}
	fb.Pix[fb.PixOffset(x, y)] = v
}

// Fill sets every pixel to v.
func (fb *FrameBuffer) Fill(v uint16) {
	for i := range fb.Pix {
		fb.Pix[i] = v
	}
}

// CopyFrom copies the pixels of src inside r into fb.
func (fb *FrameBuffer) CopyFrom(src *FrameBuffer, r image.Rectangle) {
	r = r.Intersect(fb.Rect).Intersect(src.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		d := fb.PixOffset(r.Min.X, y)
		s := src.PixOffset(r.Min.X, y)
		copy(fb.Pix[d:d+r.Dx()], src.Pix[s:s+r.Dx()])
	}
}
