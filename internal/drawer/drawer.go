// Package drawer exposes an ST7735 panel as an image drawing surface.
//
// A Panel keeps the frame the application composes and a copy of what is
// believed to be on the glass. Only the changed rectangle is flushed.
package drawer

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"periph.io/x/conn/v3/display"
	"tinygo.org/x/drivers"

	"lcdpanel/internal/convert"
	appLog "lcdpanel/internal/log"
	"lcdpanel/internal/st7735"
)

// Device is the part of *st7735.Dev a Panel drives.
type Device interface {
	Flush(fb *st7735.FrameBuffer, r image.Rectangle) error
	Bounds() image.Rectangle
	Halt() error
	String() string
}

// Stats counts flushes for status reporting.
type Stats struct {
	Flushes   uint64    `json:"flushes"`
	Pixels    uint64    `json:"pixels"`
	Errors    uint64    `json:"errors"`
	LastFlush time.Time `json:"last_flush"`
	LastError string    `json:"last_error,omitempty"`
}

// Panel implements display.Drawer and drivers.Displayer on top of a Device.
type Panel struct {
	mu     sync.Mutex
	dev    Device
	layout convert.Layout

	frame *st7735.FrameBuffer
	shown *st7735.FrameBuffer
	// synced is false until shown is known to match the glass.
	synced bool
	// dirty accumulates SetPixel writes until Display.
	dirty image.Rectangle

	stats Stats
}

// New returns a Panel sized to dev's visible area.
func New(dev Device, layout convert.Layout) *Panel {
	b := dev.Bounds()
	return &Panel{
		dev:    dev,
		layout: layout,
		frame:  st7735.NewFrameBuffer(b),
		shown:  st7735.NewFrameBuffer(b),
	}
}

func (p *Panel) String() string {
	return fmt.Sprintf("drawer.Panel{%s, %s}", p.dev, p.layout)
}

// Halt halts the underlying device.
func (p *Panel) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev.Halt()
}

// ColorModel implements display.Drawer.
func (p *Panel) ColorModel() color.Model {
	return convert.Model
}

// Bounds implements display.Drawer.
func (p *Panel) Bounds() image.Rectangle {
	return p.frame.Rect
}

// Draw implements display.Drawer. It converts src into the frame and
// flushes the part of r whose content changed.
func (p *Panel) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	written := convert.Draw(p.frame, r, src, sp, p.layout)
	return p.flushLocked(written.Union(p.dirty))
}

// Flush copies r from fb into the frame and flushes what changed. It lets
// a Panel stand in for the device under the framebuffer adapter.
func (p *Panel) Flush(fb *st7735.FrameBuffer, r image.Rectangle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r = r.Intersect(fb.Rect).Intersect(p.frame.Rect)
	p.frame.CopyFrom(fb, r)
	return p.flushLocked(r.Union(p.dirty))
}

// ReadFrame copies the current frame, in the panel's pixel layout, into
// dst.
func (p *Panel) ReadFrame(dst *st7735.FrameBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dst.CopyFrom(p.frame, dst.Rect)
}

// Size implements drivers.Displayer.
func (p *Panel) Size() (x, y int16) {
	return int16(p.frame.Rect.Dx()), int16(p.frame.Rect.Dy())
}

// SetPixel implements drivers.Displayer. The pixel reaches the panel on
// the next Display.
func (p *Panel) SetPixel(x, y int16, c color.RGBA) {
	pt := image.Point{int(x), int(y)}
	if !pt.In(p.frame.Rect) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame.SetRGB565(pt.X, pt.Y, p.layout.Apply(convert.ToRGB565(c)))
	p.dirty = p.dirty.Union(image.Rectangle{Min: pt, Max: pt.Add(image.Point{1, 1})})
}

// Display implements drivers.Displayer.
func (p *Panel) Display() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(p.dirty)
}

// Fill sets the whole frame to c and flushes it.
func (p *Panel) Fill(c color.Color) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame.Fill(p.layout.Apply(convert.ToRGB565(c)))
	return p.flushLocked(p.frame.Rect)
}

// Invalidate forgets what is on the glass, so the next flush sends every
// pixel it covers. Call it after the controller was reset.
func (p *Panel) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synced = false
}

// Redraw sends the whole frame.
func (p *Panel) Redraw() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synced = false
	return p.flushLocked(p.frame.Rect)
}

// Snapshot returns a copy of the composed frame.
func (p *Panel) Snapshot() *image.NRGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.frame.Rect
	img := image.NewNRGBA(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := p.frame.PixOffset(r.Min.X, y)
		i := img.PixOffset(r.Min.X, y)
		for _, v := range p.frame.Pix[off : off+r.Dx()] {
			c := convert.FromRGB565(p.layout.Invert(v))
			img.Pix[i+0] = c.R
			img.Pix[i+1] = c.G
			img.Pix[i+2] = c.B
			img.Pix[i+3] = c.A
			i += 4
		}
	}
	return img
}

// Stats returns the flush counters.
func (p *Panel) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Panel) flushLocked(r image.Rectangle) error {
	r = r.Intersect(p.frame.Rect)
	if p.synced {
		r = changed(p.frame, p.shown, r)
	}
	if r.Empty() {
		p.dirty = image.Rectangle{}
		return nil
	}
	if err := p.dev.Flush(p.frame, r); err != nil {
		p.stats.Errors++
		p.stats.LastError = err.Error()
		p.dirty = p.dirty.Union(r)
		appLog.Error("panel flush failed", err, "rect", r)
		return err
	}
	p.shown.CopyFrom(p.frame, r)
	if r == p.frame.Rect {
		p.synced = true
	}
	p.dirty = image.Rectangle{}
	p.stats.Flushes++
	p.stats.Pixels += uint64(r.Dx() * r.Dy())
	p.stats.LastFlush = time.Now()
	p.stats.LastError = ""
	appLog.Debug("panel flushed", "rect", r)
	return nil
}

// changed returns the bounding box of the pixels in r that differ between
// a and b.
func changed(a, b *st7735.FrameBuffer, r image.Rectangle) image.Rectangle {
	minX, minY := r.Max.X, r.Max.Y
	maxX, maxY := r.Min.X-1, r.Min.Y-1
	for y := r.Min.Y; y < r.Max.Y; y++ {
		ao := a.PixOffset(r.Min.X, y)
		bo := b.PixOffset(r.Min.X, y)
		ar := a.Pix[ao : ao+r.Dx()]
		br := b.Pix[bo : bo+r.Dx()]
		for x := range ar {
			if ar[x] == br[x] {
				continue
			}
			px := r.Min.X + x
			if px < minX {
				minX = px
			}
			if px > maxX {
				maxX = px
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}
	if maxX < minX {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

var (
	_ display.Drawer    = (*Panel)(nil)
	_ drivers.Displayer = (*Panel)(nil)
)
