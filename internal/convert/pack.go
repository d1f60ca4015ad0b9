package convert

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"lcdpanel/internal/st7735"
)

// Layout is the bit arrangement of a 16-bit pixel as the panel expects it.
type Layout int

const (
	// LayoutRGB565 is R5 G6 B5, high bit first.
	LayoutRGB565 Layout = iota
	// LayoutRBG565 is R5 B6 G5 for modules wired with green and blue
	// exchanged.
	LayoutRBG565
)

// ParseLayout accepts "rgb565" or "rbg565"; empty means rgb565.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rgb565", "":
		return LayoutRGB565, nil
	case "rbg565":
		return LayoutRBG565, nil
	}
	return 0, fmt.Errorf("convert: unknown pixel layout %q", s)
}

func (l Layout) String() string {
	if l == LayoutRBG565 {
		return "rbg565"
	}
	return "rgb565"
}

// Apply repacks an RGB565 value into layout l.
//
// For RBG565 blue is widened to six bits by repeating its top bit and green
// loses its least significant bit, so full scale stays full scale.
func (l Layout) Apply(v uint16) uint16 {
	if l != LayoutRBG565 {
		return v
	}
	r := v >> 11 & 0x1F
	g := v >> 5 & 0x3F
	b := v & 0x1F
	b6 := b<<1 | b>>4
	return r<<11 | b6<<5 | g>>1
}

// Invert maps a value in layout l back to RGB565. The RBG565 round trip
// loses the low bit of green and of blue.
func (l Layout) Invert(v uint16) uint16 {
	if l != LayoutRBG565 {
		return v
	}
	r := v >> 11 & 0x1F
	b6 := v >> 5 & 0x3F
	g5 := v & 0x1F
	return r<<11 | (g5<<1|g5>>4)<<5 | b6>>1
}

// Color565 is an RGB565 pixel.
type Color565 uint16

// RGBA implements color.Color.
func (c Color565) RGBA() (r, g, b, a uint32) {
	n := FromRGB565(uint16(c))
	return n.RGBA()
}

// Model converts any color to Color565.
var Model = color.ModelFunc(func(c color.Color) color.Color {
	if c, ok := c.(Color565); ok {
		return c
	}
	return Color565(ToRGB565(c))
})

// ToRGB565 reduces c to RGB565. Pixels that are less than half opaque
// become black.
func ToRGB565(c color.Color) uint16 {
	if c, ok := c.(Color565); ok {
		return uint16(c)
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return pack(n.R, n.G, n.B, n.A)
}

// FromRGB565 expands v to 8 bits per channel by bit replication.
func FromRGB565(v uint16) color.NRGBA {
	r := uint8(v >> 11 & 0x1F)
	g := uint8(v >> 5 & 0x3F)
	b := uint8(v & 0x1F)
	return color.NRGBA{
		R: r<<3 | r>>2,
		G: g<<2 | g>>4,
		B: b<<3 | b>>2,
		A: 0xFF,
	}
}

func pack(r, g, b, a uint8) uint16 {
	if a < 128 {
		return 0
	}
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// ImageToFrame converts img into fb, aligning img's top left corner with
// fb's.
func ImageToFrame(img image.Image, fb *st7735.FrameBuffer, layout Layout) {
	Draw(fb, fb.Rect, img, img.Bounds().Min, layout)
}

// Draw converts the part of src starting at sp into the rectangle r of fb,
// the way draw.Draw with draw.Src would. It returns the rectangle of fb
// that was written.
func Draw(fb *st7735.FrameBuffer, r image.Rectangle, src image.Image, sp image.Point, layout Layout) image.Rectangle {
	// Clip to the destination, then to the source, keeping sp aligned.
	clipped := r.Intersect(fb.Rect)
	sp = sp.Add(clipped.Min.Sub(r.Min))
	r = clipped
	sr := image.Rectangle{Min: sp, Max: sp.Add(r.Size())}.Intersect(src.Bounds())
	r = image.Rectangle{Min: r.Min.Add(sr.Min.Sub(sp)), Max: r.Min.Add(sr.Max.Sub(sp))}
	sp = sr.Min
	if r.Empty() {
		return image.Rectangle{}
	}

	switch s := src.(type) {
	case *image.NRGBA:
		drawNRGBA(fb, r, s, sp, layout)
	case *image.RGBA:
		drawRGBA(fb, r, s, sp, layout)
	default:
		for y := 0; y < r.Dy(); y++ {
			off := fb.PixOffset(r.Min.X, r.Min.Y+y)
			for x := 0; x < r.Dx(); x++ {
				fb.Pix[off+x] = layout.Apply(ToRGB565(src.At(sp.X+x, sp.Y+y)))
			}
		}
	}
	return r
}

// drawNRGBA walks the source stride directly instead of calling At.
func drawNRGBA(fb *st7735.FrameBuffer, r image.Rectangle, src *image.NRGBA, sp image.Point, layout Layout) {
	for y := 0; y < r.Dy(); y++ {
		i := src.PixOffset(sp.X, sp.Y+y)
		off := fb.PixOffset(r.Min.X, r.Min.Y+y)
		for x := 0; x < r.Dx(); x++ {
			p := src.Pix[i : i+4 : i+4]
			fb.Pix[off+x] = layout.Apply(pack(p[0], p[1], p[2], p[3]))
			i += 4
		}
	}
}

// drawRGBA un-premultiplies each pixel before packing.
func drawRGBA(fb *st7735.FrameBuffer, r image.Rectangle, src *image.RGBA, sp image.Point, layout Layout) {
	for y := 0; y < r.Dy(); y++ {
		i := src.PixOffset(sp.X, sp.Y+y)
		off := fb.PixOffset(r.Min.X, r.Min.Y+y)
		for x := 0; x < r.Dx(); x++ {
			p := src.Pix[i : i+4 : i+4]
			var v uint16
			switch a := p[3]; {
			case a == 0xFF:
				v = pack(p[0], p[1], p[2], a)
			case a >= 128:
				v = pack(
					uint8(uint32(p[0])*0xFF/uint32(a)),
					uint8(uint32(p[1])*0xFF/uint32(a)),
					uint8(uint32(p[2])*0xFF/uint32(a)),
					a,
				)
			}
			fb.Pix[off+x] = layout.Apply(v)
			i += 4
		}
	}
}

// SwapBytes exchanges the two bytes of every 16-bit word in b, turning a
// big-endian pixel stream into a little-endian one and back. A trailing odd
// byte is left alone.
func SwapBytes(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}
