package drawer

import (
	"image/color"

	"tinygo.org/x/drivers"
)

// barColors are the classic eight vertical test bars, left to right.
var barColors = [8]color.RGBA{
	{0xFF, 0xFF, 0xFF, 0xFF}, // white
	{0xFF, 0xFF, 0x00, 0xFF}, // yellow
	{0x00, 0xFF, 0xFF, 0xFF}, // cyan
	{0x00, 0xFF, 0x00, 0xFF}, // green
	{0xFF, 0x00, 0xFF, 0xFF}, // magenta
	{0xFF, 0x00, 0x00, 0xFF}, // red
	{0x00, 0x00, 0xFF, 0xFF}, // blue
	{0x00, 0x00, 0x00, 0xFF}, // black
}

// ColorBars paints eight vertical color bars on d and displays them. It
// checks rotation, color order and pixel layout at a glance.
func ColorBars(d drivers.Displayer) error {
	w, h := d.Size()
	for x := int16(0); x < w; x++ {
		c := barColors[int(x)*len(barColors)/int(w)]
		for y := int16(0); y < h; y++ {
			d.SetPixel(x, y, c)
		}
	}
	return d.Display()
}
