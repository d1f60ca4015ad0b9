package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Default capture parameters, sized for the 128x128 module.
const (
	DefaultWidth      = 128
	DefaultHeight     = 128
	DefaultTimeoutSec = 30
	DefaultSelector   = "body"
)

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:3000/panel".
	URL string

	// Width and Height are the viewport dimensions in pixels, normally the
	// panel's visible area in its mounted rotation. If zero, DefaultWidth /
	// DefaultHeight are used.
	Width  int
	Height int

	// WaitSelector is waited on before the screenshot. Pages that render
	// asynchronously can expose e.g. `[data-ready="true"]`.
	WaitSelector string

	// Settle is an extra delay after WaitSelector, for final paints.
	Settle time.Duration

	// Timeout bounds the entire capture operation. If zero, a sane default
	// (DefaultTimeoutSec) is used.
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.WaitSelector == "" {
		o.WaitSelector = DefaultSelector
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// tasks is the chromedp action list for one capture.
func (o *Options) tasks(png *[]byte) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.EmulateViewport(int64(o.Width), int64(o.Height)),
		chromedp.Navigate(o.URL),
		chromedp.WaitVisible(o.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(o.Settle),
		chromedp.CaptureScreenshot(png),
	}
}

// CapturePNG launches (or attaches to) a headless Chromium instance via
// chromedp, navigates to opts.URL, waits for opts.WaitSelector and returns
// a PNG screenshot of the viewport.
//
// The PNG is full color; conversion to RGB565 is left to the caller.
func CapturePNG(parentCtx context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	// Apply timeout to the entire capture sequence.
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	if err := chromedp.Run(ctx, opts.tasks(&png)); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return png, nil
}
