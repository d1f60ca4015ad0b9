package st7735

import (
	"fmt"
	"image"
)

// AddressWindow is a rectangle in controller memory coordinates, with
// inclusive ends. Pixel data written after SetWindow fills it row by row.
type AddressWindow struct {
	ColStart, ColEnd uint16
	RowStart, RowEnd uint16
}

// Width returns the number of columns.
func (w AddressWindow) Width() int {
	return int(w.ColEnd) - int(w.ColStart) + 1
}

// Height returns the number of rows.
func (w AddressWindow) Height() int {
	return int(w.RowEnd) - int(w.RowStart) + 1
}

// Pixels returns the number of pixels the window consumes.
func (w AddressWindow) Pixels() int {
	return w.Width() * w.Height()
}

func (w AddressWindow) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", w.ColStart, w.RowStart, w.ColEnd, w.RowEnd)
}

// Check verifies start <= end on both axes and that the window lies within
// a memory of memW x memH.
func (w AddressWindow) Check(memW, memH int) error {
	if w.ColStart > w.ColEnd || w.RowStart > w.RowEnd {
		return fmt.Errorf("%w: %s is inverted", ErrWindow, w)
	}
	if int(w.ColEnd) >= memW || int(w.RowEnd) >= memH {
		return fmt.Errorf("%w: %s outside %dx%d", ErrWindow, w, memW, memH)
	}
	return nil
}

// windowFor maps a rectangle of the visible area to controller memory.
func (g Geometry) windowFor(r image.Rectangle) AddressWindow {
	return AddressWindow{
		ColStart: uint16(r.Min.X + g.LeftOffset),
		ColEnd:   uint16(r.Max.X - 1 + g.LeftOffset),
		RowStart: uint16(r.Min.Y + g.TopOffset),
		RowEnd:   uint16(r.Max.Y - 1 + g.TopOffset),
	}
}

// SetWindow programs the column and row range and opens a memory write.
// The caller must follow with exactly Pixels() pixels; the controller does
// not check.
func (d *Dev) SetWindow(w AddressWindow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	g := d.geom.Rotate(d.rot)
	if err := w.Check(g.MemWidth, g.MemHeight); err != nil {
		return err
	}
	return d.setWindow(w)
}

func (d *Dev) setWindow(w AddressWindow) error {
	if err := d.send(CommandFrame{Cmd: cmdCASET, Data: rangeBytes(w.ColStart, w.ColEnd)}); err != nil {
		return err
	}
	if err := d.send(CommandFrame{Cmd: cmdRASET, Data: rangeBytes(w.RowStart, w.RowEnd)}); err != nil {
		return err
	}
	return d.send(CommandFrame{Cmd: cmdRAMWR})
}

// rangeBytes encodes start and end big-endian, high byte first.
func rangeBytes(start, end uint16) []byte {
	return []byte{byte(start >> 8), byte(start), byte(end >> 8), byte(end)}
}
