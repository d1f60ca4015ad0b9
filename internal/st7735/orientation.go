package st7735

import (
	"fmt"
	"image"
	"strings"
)

// Address mode (MADCTL) bits.
const (
	AddrMY  byte = 0x80 // row address order
	AddrMX  byte = 0x40 // column address order
	AddrMV  byte = 0x20 // row/column exchange
	AddrRGB byte = 0x08 // color order bit
)

// Rotation is the clockwise rotation of the image, in degrees.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ColorOrder selects how the controller maps the 16-bit pixel onto the
// panel's sub-pixels. BGR is the power-on default of the module.
type ColorOrder int

const (
	BGR ColorOrder = iota
	RGB
)

type orientation struct {
	mode byte
	// swap is set when MV exchanges rows and columns.
	swap bool
}

var orientations = map[Rotation]orientation{
	Rotate0:   {mode: AddrMX | AddrMY},
	Rotate90:  {mode: AddrMX | AddrMV, swap: true},
	Rotate180: {mode: 0},
	Rotate270: {mode: AddrMY | AddrMV, swap: true},
}

// ParseRotation converts degrees into a Rotation.
func ParseRotation(deg int) (Rotation, error) {
	r := Rotation(deg)
	if !r.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrRotation, deg)
	}
	return r, nil
}

// Valid reports whether r is one of the four supported rotations.
func (r Rotation) Valid() bool {
	_, ok := orientations[r]
	return ok
}

// Bits returns the MX/MY/MV bits for r.
func (r Rotation) Bits() byte {
	return orientations[r].mode
}

// SwapsAxes reports whether r exchanges rows and columns.
func (r Rotation) SwapsAxes() bool {
	return orientations[r].swap
}

func (r Rotation) String() string {
	return fmt.Sprintf("%d°", int(r))
}

// ParseColorOrder accepts "rgb" or "bgr" in any case.
func ParseColorOrder(s string) (ColorOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rgb":
		return RGB, nil
	case "bgr", "":
		return BGR, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrColorOrder, s)
}

// Valid reports whether o is RGB or BGR.
func (o ColorOrder) Valid() bool {
	return o == RGB || o == BGR
}

func (o ColorOrder) String() string {
	if o == RGB {
		return "rgb"
	}
	return "bgr"
}

// AddressMode computes the MADCTL payload for a rotation and color order.
func AddressMode(r Rotation, o ColorOrder) byte {
	mode := r.Bits()
	if o == RGB {
		mode |= AddrRGB
	}
	return mode
}

// Geometry describes one panel variant. All values are expressed in the
// unrotated orientation.
type Geometry struct {
	// Visible area.
	Width  int
	Height int
	// Controller memory extent. It can exceed the visible area.
	MemWidth  int
	MemHeight int
	// Position of the visible area inside controller memory.
	LeftOffset int
	TopOffset  int
}

// DefaultGeometry is the 128x128 module mounted on a 132x132 controller.
var DefaultGeometry = Geometry{
	Width:      128,
	Height:     128,
	MemWidth:   132,
	MemHeight:  132,
	LeftOffset: 2,
	TopOffset:  1,
}

// Validate checks that the visible area fits in controller memory.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("st7735: visible area %dx%d must be positive", g.Width, g.Height)
	}
	if g.MemWidth > 0xFFFF || g.MemHeight > 0xFFFF {
		return fmt.Errorf("st7735: memory extent %dx%d exceeds 16-bit addressing", g.MemWidth, g.MemHeight)
	}
	if g.LeftOffset < 0 || g.TopOffset < 0 {
		return fmt.Errorf("st7735: offsets %d,%d must not be negative", g.LeftOffset, g.TopOffset)
	}
	if g.LeftOffset+g.Width > g.MemWidth || g.TopOffset+g.Height > g.MemHeight {
		return fmt.Errorf("st7735: visible area %dx%d+%d+%d exceeds memory %dx%d",
			g.Width, g.Height, g.LeftOffset, g.TopOffset, g.MemWidth, g.MemHeight)
	}
	return nil
}

// Rotate returns the geometry as seen through r: the visible and memory
// extents are exchanged for 90 and 270 degrees. The offsets stay as they
// are; they are added to the column and row addresses at every rotation.
func (g Geometry) Rotate(r Rotation) Geometry {
	if !r.SwapsAxes() {
		return g
	}
	return Geometry{
		Width:      g.Height,
		Height:     g.Width,
		MemWidth:   g.MemHeight,
		MemHeight:  g.MemWidth,
		LeftOffset: g.LeftOffset,
		TopOffset:  g.TopOffset,
	}
}

// Bounds returns the visible rectangle with Min at {0, 0}.
func (g Geometry) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width, g.Height)
}
