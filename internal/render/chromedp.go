// Package render loads pages in headless Chrome for sites whose content is
// built by client-side scripts.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNavigateTimeout = 20 * time.Second
	DefaultSettleDelay     = 2500 * time.Millisecond
)

// Chrome renders pages with a fresh headless browser per call. The browser
// is always shut down before Render returns.
type Chrome struct {
	// ExecPath overrides the Chrome binary lookup.
	ExecPath  string
	Headless  bool
	NoSandbox bool
	UserAgent string
	// NavigateTimeout bounds navigation plus the network idle wait.
	NavigateTimeout time.Duration
	// SettleDelay is waited after network idle for late client rendering.
	SettleDelay time.Duration
}

// New returns a headless renderer with default timings.
func New() *Chrome {
	return &Chrome{Headless: true, NavigateTimeout: DefaultNavigateTimeout, SettleDelay: DefaultSettleDelay}
}

// Render navigates to url, waits until the new document's network is almost
// idle, lets the page settle and returns the document's outer HTML.
func (c *Chrome) Render(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", c.Headless))
	if c.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// start the browser on browserCtx; the first Run owns its lifetime
	if err := chromedp.Run(browserCtx); err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	idle := newIdleWatch()
	chromedp.ListenTarget(browserCtx, idle.observe)

	timeout := c.NavigateTimeout
	if timeout <= 0 {
		timeout = DefaultNavigateTimeout
	}
	navCtx, cancelNav := context.WithTimeout(browserCtx, timeout)
	defer cancelNav()

	started := time.Now()
	err := chromedp.Run(navCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var res page.NavigateReturns
			if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
				return err
			}
			if res.ErrorText != "" {
				return fmt.Errorf("page load error %s", res.ErrorText)
			}
			if res.LoaderID == "" {
				return fmt.Errorf("no document load for %s", url)
			}
			idle.expect(res.LoaderID)
			return nil
		}),
	)
	if err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	select {
	case <-idle.Done():
	case <-navCtx.Done():
		return "", fmt.Errorf("wait network idle %s: %w", url, navCtx.Err())
	}

	settle := c.SettleDelay
	if settle < 0 {
		settle = 0
	}
	var html string
	// the settle wait is outside the navigation timeout
	if err := chromedp.Run(browserCtx,
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("read document %s: %w", url, err)
	}
	log.Debug().
		Str("stage", "render").
		Str("url", url).
		Int("bytes", len(html)).
		Int64("duration_ms", time.Since(started).Milliseconds()).
		Msg("rendered page")
	return html, nil
}
