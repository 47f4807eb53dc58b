package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Renderer turns a URL into a PNG screenshot.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// ChromeRenderer drives a headless Chrome instance via the DevTools protocol.
type ChromeRenderer struct {
	timeout time.Duration
}

// NewChromeRenderer returns a renderer with the given per-page timeout.
func NewChromeRenderer(timeout time.Duration) *ChromeRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromeRenderer{timeout: timeout}
}

// Render navigates to the URL and captures a full-page screenshot.
func (r *ChromeRenderer) Render(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("ignore-certificate-errors", true),
		)...,
	)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var buf []byte
	err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(1280, 800),
		chromedp.Navigate(url),
		chromedp.FullScreenshot(&buf, 90),
	)
	if err != nil {
		return nil, fmt.Errorf("render %q: %w", url, err)
	}
	return buf, nil
}

// StaticRenderer returns a fixed image for every URL; used by tests.
type StaticRenderer struct {
	Image []byte
	Err   error
}

// Render returns the configured image or error.
func (r *StaticRenderer) Render(ctx context.Context, url string) ([]byte, error) {
	return r.Image, r.Err
}
