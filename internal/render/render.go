// Package render drives headless Chrome tabs. Each shell tab that needs a
// live page gets its own browser tab sharing one Chrome process.
package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const navigateTimeout = 30 * time.Second

// Available reports whether a Chromium binary is installed. The shell runs
// headless without one; tabs simply have no live rendering contexts.
func Available() bool {
	if _, err := exec.LookPath("chromium-browser"); err == nil {
		return true
	}
	if _, err := exec.LookPath("chromium"); err == nil {
		return true
	}
	_, err := exec.LookPath("google-chrome")
	return err == nil
}

// Renderer owns the shared Chrome allocator. Tab contexts are children of
// the allocator context, so closing the renderer tears down every tab.
type Renderer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// New starts a Chrome exec allocator with container-safe flags.
func New(ctx context.Context) *Renderer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Renderer{allocCtx: allocCtx, allocCancel: cancel}
}

// Close shuts down Chrome and every tab context.
func (r *Renderer) Close() {
	r.allocCancel()
}

// NewTabContext opens a browser tab and navigates it to url. The returned
// context satisfies the shell's rendering-resource interface.
func (r *Renderer) NewTabContext(tabID, url string) (*TabContext, error) {
	ctx, cancel := chromedp.NewContext(r.allocCtx)
	tc := &TabContext{tabID: tabID, ctx: ctx, cancel: cancel}
	if url != "" && url != "about:newtab" {
		if err := tc.Navigate(url); err != nil {
			cancel()
			return nil, err
		}
	}
	return tc, nil
}

// TabContext is one live browser tab.
type TabContext struct {
	tabID  string
	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	url string
}

// Navigate loads url in the tab and waits for the body to be ready.
func (t *TabContext) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(t.ctx, navigateTimeout)
	defer cancel()
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		return fmt.Errorf("navigate %s to %s: %w", t.tabID, url, err)
	}
	t.mu.Lock()
	t.url = url
	t.mu.Unlock()
	return nil
}

// Reload reloads the tab's current page.
func (t *TabContext) Reload() error {
	ctx, cancel := context.WithTimeout(t.ctx, navigateTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload %s: %w", t.tabID, err)
	}
	return nil
}

// ReadPage returns the rendered page content, either the body's inner text
// or the full HTML.
func (t *TabContext) ReadPage(ctx context.Context, textOnly bool) (string, error) {
	runCtx, cancel := context.WithTimeout(t.ctx, navigateTimeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	var content string
	var err error
	if textOnly {
		err = chromedp.Run(runCtx, chromedp.Text("body", &content, chromedp.ByQuery))
	} else {
		err = chromedp.Run(runCtx, chromedp.OuterHTML("html", &content, chromedp.ByQuery))
	}
	if err != nil {
		return "", fmt.Errorf("read page %s: %w", t.tabID, err)
	}
	return content, nil
}

// Screenshot captures the viewport as a PNG data URL, sized for the tab
// switcher rather than archival quality.
func (t *TabContext) Screenshot() (string, error) {
	ctx, cancel := context.WithTimeout(t.ctx, navigateTimeout)
	defer cancel()
	var data []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		data, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithOptimizeForSpeed(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("screenshot %s: %w", t.tabID, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// URL returns the last URL this tab navigated to.
func (t *TabContext) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// Release closes the browser tab. The document survives; only the rendering
// resource is dropped.
func (t *TabContext) Release() {
	t.cancel()
}
