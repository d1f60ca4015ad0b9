// Package source produces frames for the panel from files or web pages.
package source

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"lcdpanel/internal/capture"
	"lcdpanel/internal/config"
	"lcdpanel/internal/convert"
)

// Source yields the next frame to show.
type Source interface {
	Frame(ctx context.Context) (image.Image, error)
	String() string
}

// Fit scales img to fit inside size, keeping its aspect ratio, and centers
// it on a black canvas of exactly that size.
func Fit(img image.Image, size image.Point) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() != size.X || b.Dy() != size.Y {
		img = imaging.Fit(img, size.X, size.Y, imaging.Lanczos)
	}
	bg := imaging.New(size.X, size.Y, color.Black)
	return imaging.PasteCenter(bg, img)
}

// FileSource reads an image file (PNG, JPEG, GIF, BMP, TIFF) or a raw
// little-endian RGB565 frame with the .rgb565 or .raw extension.
type FileSource struct {
	Path string
	Size image.Point
}

func (s *FileSource) String() string { return "file:" + s.Path }

// Frame implements Source. The file is read on every call.
func (s *FileSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".rgb565", ".raw":
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		return DecodeRaw(data, s.Size)
	}
	img, err := imaging.Open(s.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return Fit(img, s.Size), nil
}

// DecodeRaw turns a little-endian RGB565 frame of exactly size pixels into
// an image.
func DecodeRaw(data []byte, size image.Point) (*image.NRGBA, error) {
	if want := size.X * size.Y * 2; len(data) != want {
		return nil, fmt.Errorf("source: raw frame is %d bytes, want %d for %dx%d", len(data), want, size.X, size.Y)
	}
	img := image.NewNRGBA(image.Rectangle{Max: size})
	for i := 0; i < size.X*size.Y; i++ {
		c := convert.FromRGB565(binary.LittleEndian.Uint16(data[2*i:]))
		copy(img.Pix[4*i:4*i+4], []uint8{c.R, c.G, c.B, c.A})
	}
	return img, nil
}

// URLSource screenshots a web page at the panel size.
type URLSource struct {
	URL          string
	Size         image.Point
	WaitSelector string
	Timeout      time.Duration

	// capture is replaced in tests.
	capture func(context.Context, capture.Options) ([]byte, error)
}

func (s *URLSource) String() string { return "url:" + s.URL }

// Frame implements Source.
func (s *URLSource) Frame(ctx context.Context) (image.Image, error) {
	shoot := s.capture
	if shoot == nil {
		shoot = capture.CapturePNG
	}
	png, err := shoot(ctx, capture.Options{
		URL:          s.URL,
		Width:        s.Size.X,
		Height:       s.Size.Y,
		WaitSelector: s.WaitSelector,
		Timeout:      s.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(png), s.Size)
}

// Decode reads an encoded image (PNG, JPEG, GIF, BMP, TIFF) and fits it
// to size.
func Decode(r io.Reader, size image.Point) (*image.NRGBA, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("source: decode: %w", err)
	}
	return Fit(img, size), nil
}

// FromConfig builds the configured source, or nil for kind "none". size is
// the panel's visible area in its mounted rotation.
func FromConfig(c config.SourceConfig, size image.Point) (Source, error) {
	switch c.Kind {
	case "", "none":
		return nil, nil
	case "file":
		return &FileSource{Path: c.Path, Size: size}, nil
	case "url":
		return &URLSource{
			URL:     c.URL,
			Size:    size,
			Timeout: time.Duration(c.TimeoutSec) * time.Second,
		}, nil
	}
	return nil, fmt.Errorf("source: unknown kind %q", c.Kind)
}
