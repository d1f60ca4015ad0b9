package st7735

import (
	"fmt"
	"time"
)

// Controller commands.
const (
	cmdSWRESET = 0x01 // software reset
	cmdRDDID   = 0x04 // read display ID
	cmdSLPIN   = 0x10 // sleep in
	cmdSLPOUT  = 0x11 // sleep out
	cmdINVON   = 0x21 // display inversion on
	cmdDISPOFF = 0x28
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A // column address set
	cmdRASET   = 0x2B // row address set
	cmdRAMWR   = 0x2C // memory write
	cmdMADCTL  = 0x36 // memory data access control
	cmdCOLMOD  = 0x3A // interface pixel format
	cmdFRMCTR1 = 0xB1 // frame rate, normal mode
	cmdFRMCTR2 = 0xB2 // frame rate, idle mode
	cmdFRMCTR3 = 0xB3 // frame rate, partial mode
	cmdINVCTR  = 0xB4 // inversion control
	cmdPWCTR1  = 0xC0
	cmdPWCTR2  = 0xC1
	cmdPWCTR3  = 0xC2
	cmdPWCTR4  = 0xC3
	cmdPWCTR5  = 0xC4
	cmdVMCTR1  = 0xC5 // VCOM
	cmdGMCTRP1 = 0xE0 // positive gamma
	cmdGMCTRN1 = 0xE1 // negative gamma
)

// pixelFormat16 selects 16 bits per pixel, RGB565.
const pixelFormat16 = 0x05

// Charge pump and gamma ramp stabilization after SLPOUT and DISPON.
const (
	sleepOutDelay  = 120 * time.Millisecond
	displayOnDelay = 120 * time.Millisecond
)

var gammaPositive = [16]byte{
	0x0c, 0x1c, 0x0f, 0x18, 0x36, 0x2f, 0x27, 0x2a,
	0x27, 0x25, 0x2d, 0x3c, 0x00, 0x05, 0x03, 0x10,
}

var gammaNegative = [16]byte{
	0x0c, 0x1a, 0x09, 0x09, 0x26, 0x22, 0x1e, 0x25,
	0x25, 0x25, 0x2e, 0x3b, 0x00, 0x05, 0x03, 0x10,
}

// InitSequence returns the register programming for a panel, in the order
// it must be sent. Only the MADCTL payload depends on rotation and color
// order. Power control precedes VCOM since their settling interacts.
func InitSequence(g Geometry, r Rotation, o ColorOrder) []CommandFrame {
	mem := g.Rotate(r)
	return []CommandFrame{
		{Cmd: cmdFRMCTR1, Data: []byte{0x05, 0x3c, 0x3c}},
		{Cmd: cmdFRMCTR2, Data: []byte{0x05, 0x3c, 0x3c}},
		{Cmd: cmdFRMCTR3, Data: []byte{0x05, 0x3c, 0x3c, 0x05, 0x3c, 0x3c}},
		{Cmd: cmdINVCTR, Data: []byte{0x03}},
		{Cmd: cmdPWCTR1, Data: []byte{0x0e, 0x0e, 0x04}},
		{Cmd: cmdPWCTR2, Data: []byte{0xc0}},
		{Cmd: cmdPWCTR3, Data: []byte{0x0d, 0x00}},
		{Cmd: cmdPWCTR4, Data: []byte{0x8d, 0x2a}},
		{Cmd: cmdPWCTR5, Data: []byte{0x8d, 0xee}},
		{Cmd: cmdVMCTR1, Data: []byte{0x0c}},
		{Cmd: cmdMADCTL, Data: []byte{AddressMode(r, o)}},
		{Cmd: cmdINVON},
		{Cmd: cmdGMCTRP1, Data: gammaPositive[:]},
		{Cmd: cmdGMCTRN1, Data: gammaNegative[:]},
		{Cmd: cmdCOLMOD, Data: []byte{pixelFormat16}},
		{Cmd: cmdCASET, Data: rangeBytes(0, uint16(mem.MemWidth-1))},
		{Cmd: cmdRASET, Data: rangeBytes(0, uint16(mem.MemHeight-1))},
		{Cmd: cmdSLPOUT, Delay: sleepOutDelay},
		{Cmd: cmdDISPON, Delay: displayOnDelay},
	}
}

// Initialize programs the controller registers. It must follow a reset.
// On error the controller state is undefined and the whole reset and
// initialize sequence has to be run again.
func (d *Dev) Initialize(r Rotation, o ColorOrder) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %d", ErrRotation, int(r))
	}
	if !o.Valid() {
		return fmt.Errorf("%w: %d", ErrColorOrder, int(o))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	d.initialized = false
	for i, f := range InitSequence(d.geom, r, o) {
		if err := d.send(f); err != nil {
			return fmt.Errorf("st7735: init step %d (0x%02X): %w", i, f.Cmd, err)
		}
	}
	d.rot = r
	d.order = o
	d.initialized = true
	return nil
}
