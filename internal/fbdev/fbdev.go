// Package fbdev presents an ST7735 panel as linear video memory, the way a
// Linux framebuffer device does: RGB565 pixels in CPU (little-endian) byte
// order, row after row. Every write pushes the whole frame to the panel.
package fbdev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	appLog "lcdpanel/internal/log"
	"lcdpanel/internal/st7735"
)

var (
	// ErrFrameTooBig is returned for an offset past the end of video memory.
	ErrFrameTooBig = errors.New("fbdev: offset past end of video memory")
	// ErrNoSpace is returned when a write starts exactly at the end.
	ErrNoSpace = errors.New("fbdev: no space left in video memory")
)

// Sink receives frame updates. *st7735.Dev and *drawer.Panel implement it.
type Sink interface {
	Flush(fb *st7735.FrameBuffer, r image.Rectangle) error
}

// FrameReader is implemented by sinks that own the current frame, such as
// *drawer.Panel. Video memory is reloaded from it before every change, so
// pixels drawn through the sink are kept by partial writes.
type FrameReader interface {
	ReadFrame(dst *st7735.FrameBuffer)
}

// Device is the video memory of one panel.
type Device struct {
	mu   sync.Mutex
	sink Sink
	vmem []byte
	fb   *st7735.FrameBuffer
	pos  int64
}

// New returns video memory covering bounds, flushed into sink. It starts
// zeroed unless sink is a FrameReader.
func New(sink Sink, bounds image.Rectangle) *Device {
	return &Device{
		sink: sink,
		vmem: make([]byte, bounds.Dx()*bounds.Dy()*2),
		fb:   st7735.NewFrameBuffer(bounds),
	}
}

// Size returns the video memory size in bytes.
func (d *Device) Size() int64 {
	return int64(len(d.vmem))
}

// Bounds returns the area the video memory covers.
func (d *Device) Bounds() image.Rectangle {
	return d.fb.Rect
}

// Stride returns the length of one row in bytes.
func (d *Device) Stride() int {
	return d.fb.Stride * 2
}

// WriteAt copies p into video memory at off and updates the panel. A write
// running past the end is truncated and reported with io.ErrShortWrite.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeAt(p, off)
}

// Write implements io.Writer, advancing an internal offset.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.writeAt(p, d.pos)
	d.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker.
func (d *Device) Seek(offset int64, whence int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = d.pos + offset
	case io.SeekEnd:
		abs = int64(len(d.vmem)) + offset
	default:
		return 0, fmt.Errorf("fbdev: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("fbdev: negative position %d", abs)
	}
	d.pos = abs
	return abs, nil
}

func (d *Device) writeAt(p []byte, off int64) (int, error) {
	total := int64(len(d.vmem))
	if off < 0 || off > total {
		return 0, ErrFrameTooBig
	}
	n := len(p)
	if int64(n) > total-off {
		n = int(total - off)
	}
	if n == 0 {
		return 0, ErrNoSpace
	}
	d.reload()
	copy(d.vmem[off:], p[:n])
	if err := d.update(); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Fill sets every pixel to v and updates the panel.
func (d *Device) Fill(v uint16) error {
	return d.FillRect(d.fb.Rect, v)
}

// FillRect sets the pixels of r to v and updates the panel.
func (d *Device) FillRect(r image.Rectangle, v uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r = r.Intersect(d.fb.Rect)
	d.reload()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			binary.LittleEndian.PutUint16(d.vmem[d.offset(x, y):], v)
		}
	}
	return d.update()
}

// CopyArea moves the pixels of src so that its top left corner lands on
// dp, then updates the panel. Overlapping areas are handled.
func (d *Device) CopyArea(dp image.Point, src image.Rectangle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	src = src.Intersect(d.fb.Rect)
	delta := dp.Sub(src.Min)
	dst := src.Add(delta).Intersect(d.fb.Rect)
	src = dst.Sub(delta)
	if dst.Empty() {
		return nil
	}
	d.reload()
	rows := make([][]byte, src.Dy())
	for i := range rows {
		o := d.offset(src.Min.X, src.Min.Y+i)
		rows[i] = append([]byte(nil), d.vmem[o:o+src.Dx()*2]...)
	}
	for i, row := range rows {
		copy(d.vmem[d.offset(dst.Min.X, dst.Min.Y+i):], row)
	}
	return d.update()
}

// Bytes returns a copy of video memory.
func (d *Device) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reload()
	return append([]byte(nil), d.vmem...)
}

func (d *Device) offset(x, y int) int {
	return d.fb.PixOffset(x, y) * 2
}

// reload refreshes video memory from the sink's frame.
func (d *Device) reload() {
	fr, ok := d.sink.(FrameReader)
	if !ok {
		return
	}
	fr.ReadFrame(d.fb)
	for i, px := range d.fb.Pix {
		binary.LittleEndian.PutUint16(d.vmem[2*i:], px)
	}
}

// update decodes video memory into the frame and pushes all of it.
func (d *Device) update() error {
	for i := range d.fb.Pix {
		d.fb.Pix[i] = binary.LittleEndian.Uint16(d.vmem[2*i:])
	}
	if err := d.sink.Flush(d.fb, d.fb.Rect); err != nil {
		appLog.Error("fbdev update failed", err)
		return err
	}
	return nil
}

var (
	_ io.Writer   = (*Device)(nil)
	_ io.WriterAt = (*Device)(nil)
	_ io.Seeker   = (*Device)(nil)
)
