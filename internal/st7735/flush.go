package st7735

import (
	"encoding/binary"
	"fmt"
	"image"
)

// Flush sends the pixels of fb inside r, a rectangle of the visible area
// in the active rotation. r is clipped to fb and to the visible area; an
// empty result sends nothing. fb is not modified, so a failed flush can be
// repeated as is.
func (d *Dev) Flush(fb *FrameBuffer, r image.Rectangle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	g := d.geom.Rotate(d.rot)
	r = r.Intersect(fb.Rect).Intersect(g.Bounds())
	if r.Empty() {
		return nil
	}
	w := g.windowFor(r)
	if err := w.Check(g.MemWidth, g.MemHeight); err != nil {
		return err
	}
	if err := d.setWindow(w); err != nil {
		return err
	}

	tx := d.txBuffer(r.Dx() * r.Dy() * 2)
	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := fb.PixOffset(r.Min.X, y)
		for _, px := range fb.Pix[off : off+r.Dx()] {
			binary.BigEndian.PutUint16(tx[i:], px)
			i += 2
		}
	}
	return d.sendData(cmdRAMWR, tx)
}

// FlushWindow sends pix, the row-major content of w, straight into
// controller memory.
func (d *Dev) FlushWindow(pix []uint16, w AddressWindow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	g := d.geom.Rotate(d.rot)
	if err := w.Check(g.MemWidth, g.MemHeight); err != nil {
		return err
	}
	if len(pix) != w.Pixels() {
		return fmt.Errorf("%w: got %d, window %s needs %d", ErrBufferSize, len(pix), w, w.Pixels())
	}
	if err := d.setWindow(w); err != nil {
		return err
	}
	tx := d.txBuffer(len(pix) * 2)
	for i, px := range pix {
		binary.BigEndian.PutUint16(tx[2*i:], px)
	}
	return d.sendData(cmdRAMWR, tx)
}

// txBuffer returns the reusable transmit buffer sized to n bytes.
func (d *Dev) txBuffer(n int) []byte {
	if cap(d.tx) < n {
		d.tx = make([]byte, n)
	}
	return d.tx[:n]
}
