// Package st7735 drives a Sitronix ST7735S LCD controller over 4-wire SPI
// with a separate data/command (DC) line.
//
// The package covers the controller protocol only: the reset pulse, the
// register initialization sequence, the address window and the RGB565
// pixel stream. Image conversion and host wiring live elsewhere.
//
// Every call on a Dev is serialized by the Dev itself; a reset,
// initialization or flush always runs to completion or to the first error.
package st7735

import (
	"fmt"
	"image"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// DefaultSpeed is the SPI clock used by NewSPI when Opts.Speed is zero.
// The write cycle of the controller is 66ns minimum.
const DefaultSpeed = 12 * physic.MegaHertz

// Pin is a digital output line. Every periph.io gpio.PinOut satisfies it.
type Pin interface {
	Out(l gpio.Level) error
}

// Opts is the configuration of a Dev.
type Opts struct {
	// Geometry defaults to DefaultGeometry when zero.
	Geometry Geometry

	// Rotation and ColorOrder are used by Init. Initialize takes them
	// explicitly.
	Rotation   Rotation
	ColorOrder ColorOrder

	// WriteOnly disables read commands, for modules without a MISO line.
	WriteOnly bool

	// MaxTxSize caps a single data transfer. When zero the connection's
	// conn.Limits is consulted; when that is absent too, pixel data goes
	// out in one transfer.
	MaxTxSize int

	// Speed is the SPI clock used by NewSPI.
	Speed physic.Frequency

	// Sleep implements the settle delays. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Dev is an open handle to the controller.
type Dev struct {
	mu sync.Mutex

	c   conn.Conn
	dc  Pin
	rst Pin // optional

	geom      Geometry
	rot       Rotation
	order     ColorOrder
	writeOnly bool
	maxTxSize int
	sleep     func(time.Duration)

	cmd [1]byte
	tx  []byte

	initialized bool
	halted      bool
}

// NewSPI connects to the SPI port in mode 0 with 8-bit words and returns a
// Dev. The panel is not touched; call Init.
func NewSPI(p spi.Port, dc, rst Pin, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	speed := opts.Speed
	if speed == 0 {
		speed = DefaultSpeed
	}
	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("st7735: failed to connect SPI: %w", err)
	}
	return New(c, dc, rst, opts)
}

// New returns a Dev talking over c. dc is required; rst may be nil, in
// which case resets are issued as the software reset command.
func New(c conn.Conn, dc, rst Pin, opts *Opts) (*Dev, error) {
	if c == nil {
		return nil, fmt.Errorf("st7735: connection is nil")
	}
	if dc == nil {
		return nil, fmt.Errorf("st7735: dc pin is required")
	}
	if opts == nil {
		opts = &Opts{}
	}
	geom := opts.Geometry
	if geom == (Geometry{}) {
		geom = DefaultGeometry
	}
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	if !opts.Rotation.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrRotation, int(opts.Rotation))
	}
	if !opts.ColorOrder.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrColorOrder, int(opts.ColorOrder))
	}

	maxTx := opts.MaxTxSize
	if maxTx == 0 {
		if limits, ok := c.(conn.Limits); ok {
			maxTx = limits.MaxTxSize()
		}
	}
	if maxTx < 0 {
		maxTx = 0
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Dev{
		c:         c,
		dc:        dc,
		rst:       rst,
		geom:      geom,
		rot:       opts.Rotation,
		order:     opts.ColorOrder,
		writeOnly: opts.WriteOnly,
		maxTxSize: maxTx,
		sleep:     sleep,
	}, nil
}

// Init runs the hardware reset followed by Initialize with the rotation and
// color order given in Opts.
func (d *Dev) Init() error {
	if err := d.HardwareReset(); err != nil {
		return err
	}
	return d.Initialize(d.Rotation(), d.ColorOrder())
}

// Rotation returns the active rotation.
func (d *Dev) Rotation() Rotation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rot
}

// ColorOrder returns the active color order.
func (d *Dev) ColorOrder() ColorOrder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order
}

// Geometry returns the panel geometry as seen through the active rotation.
func (d *Dev) Geometry() Geometry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.geom.Rotate(d.rot)
}

// Bounds returns the visible area in the active rotation. Min is {0, 0}.
func (d *Dev) Bounds() image.Rectangle {
	return d.Geometry().Bounds()
}

// Initialized reports whether the last Initialize completed.
func (d *Dev) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// MaxTxSize returns the data transfer cap in bytes, 0 meaning unlimited.
func (d *Dev) MaxTxSize() int {
	return d.maxTxSize
}

func (d *Dev) String() string {
	g := d.Geometry()
	return fmt.Sprintf("st7735.Dev{%s, %dx%d, %s}", d.c, g.Width, g.Height, d.Rotation())
}

// Halt turns the display off and puts the controller to sleep. It waits
// for any call in progress. Every later call returns ErrHalted.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return nil
	}
	d.halted = true
	d.initialized = false
	if err := d.send(CommandFrame{Cmd: cmdDISPOFF}); err != nil {
		return err
	}
	return d.send(CommandFrame{Cmd: cmdSLPIN})
}

// ReadID returns the 24-bit display identification (manufacturer, module
// version, module ID).
func (d *Dev) ReadID() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return 0, ErrHalted
	}
	if d.writeOnly {
		return 0, ErrWriteOnly
	}
	if err := d.dc.Out(gpio.Low); err != nil {
		return 0, &SequenceError{Step: "dc command", Err: err}
	}
	// The reply starts after one dummy clock, so 25 bits are read in 4
	// bytes following the command byte.
	w := []byte{cmdRDDID, 0, 0, 0, 0}
	r := make([]byte, len(w))
	if err := d.c.Tx(w, r); err != nil {
		return 0, &BusError{Op: "read", Cmd: cmdRDDID, Err: err}
	}
	v := uint32(r[1])<<24 | uint32(r[2])<<16 | uint32(r[3])<<8 | uint32(r[4])
	return (v >> 7) & 0xFFFFFF, nil
}
