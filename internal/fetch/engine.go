package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/eventcollector/internal/extract"
	"github.com/hyperifyio/eventcollector/internal/metrics"
)

const (
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = 500 * time.Millisecond
	DefaultRenderThreshold = 500
)

// ErrRendererUnavailable is the failure cause when a page needs browser
// rendering but no renderer is configured.
var ErrRendererUnavailable = errors.New("browser rendering not configured")

// ErrDisallowedByRobots is the failure cause when robots.txt excludes the
// page. Such pages are not rendered either.
var ErrDisallowedByRobots = errors.New("disallowed by robots.txt")

// RobotsPolicy answers whether a page may be fetched at all.
type RobotsPolicy interface {
	Allowed(ctx context.Context, url string) (bool, error)
}

// Renderer loads a page in a browser and returns the rendered document. It
// must release the browser before returning, on success and on failure.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// State names a step of the escalation policy.
type State int

const (
	StateStaticAttempt State = iota
	StateRetryWait
	StateBrowserFallback
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStaticAttempt:
		return "static_attempt"
	case StateRetryWait:
		return "retry_wait"
	case StateBrowserFallback:
		return "browser_fallback"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Escalation reasons recorded when leaving the static path.
const (
	ReasonUnderThreshold = "under_threshold"
	ReasonStaticFailed   = "static_failed"
	ReasonRetryExhausted = "retry_exhausted"
)

// Engine acquires page text, escalating from a static GET to browser
// rendering when the static text is too short or the static path fails.
//
//	StaticAttempt --ok, len >= threshold--------------> Done
//	StaticAttempt --ok, len <  threshold--------------> BrowserFallback
//	StaticAttempt --transient err, attempts < max-----> RetryWait --> StaticAttempt
//	StaticAttempt --permanent err | attempts == max---> BrowserFallback
//	BrowserFallback --ok------------------------------> Done
//	BrowserFallback --err-----------------------------> Failed
//
// Only the static path is retried.
type Engine struct {
	Client    *Client
	Renderer  Renderer
	Extractor extract.Extractor
	// Robots, when set, is consulted once before the first attempt. Lookup
	// errors do not block the fetch.
	Robots RobotsPolicy
	// MaxAttempts counts static attempts including the first. Zero means 3.
	MaxAttempts int
	// BaseDelay is scaled by 2^attempts between static attempts. Zero means 500ms.
	BaseDelay time.Duration
	// RenderThreshold is the minimum static text length in characters. Zero means 500.
	RenderThreshold int
	// TextLimit is passed to extract.Truncate. Zero means 8000.
	TextLimit int
	Metrics   *metrics.Collector
	// Sleep waits between attempts; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// run carries per-call state between transitions.
type run struct {
	url        string
	selector   string
	attempts   int
	staticErr  error
	escalation string
	text       string
	method     Method
	err        error
}

// FetchPage runs the escalation state machine for one URL. It never panics
// or returns a Go error; failures are carried in the Result.
func (e *Engine) FetchPage(ctx context.Context, url, selector string) Result {
	started := time.Now()
	r := &run{url: url, selector: selector}
	state := StateStaticAttempt
	if !e.allowed(ctx, url) {
		r.err = ErrDisallowedByRobots
		state = StateFailed
	}
	for state != StateDone && state != StateFailed {
		next := e.step(ctx, state, r)
		log.Debug().
			Str("stage", "fetch").
			Str("url", url).
			Str("state", state.String()).
			Str("next", next.String()).
			Int("attempt", r.attempts).
			Msg("fetch transition")
		state = next
	}

	res := Result{URL: url, Method: r.method, Attempts: r.attempts}
	if state == StateFailed {
		res.Err = r.err
		e.Metrics.FetchFailure()
	} else {
		res.Text = r.text
	}
	ev := log.Info()
	if !res.OK() {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("stage", "fetch").
		Str("url", url).
		Str("method", string(res.Method)).
		Int("attempts", res.Attempts).
		Int("chars", utf8.RuneCountInString(res.Text)).
		Int64("duration_ms", time.Since(started).Milliseconds()).
		Msg("fetch page")
	return res
}

func (e *Engine) allowed(ctx context.Context, url string) bool {
	if e.Robots == nil {
		return true
	}
	ok, err := e.Robots.Allowed(ctx, url)
	if err != nil {
		log.Debug().Err(err).Str("stage", "fetch").Str("url", url).Msg("robots.txt unavailable; proceeding")
		return true
	}
	return ok
}

func (e *Engine) step(ctx context.Context, state State, r *run) State {
	switch state {
	case StateStaticAttempt:
		return e.staticAttempt(ctx, r)
	case StateRetryWait:
		return e.retryWait(ctx, r)
	case StateBrowserFallback:
		return e.browserFallback(ctx, r)
	default:
		r.err = fmt.Errorf("fetch: unexpected state %s", state)
		return StateFailed
	}
}

func (e *Engine) staticAttempt(ctx context.Context, r *run) State {
	r.attempts++
	e.Metrics.FetchAttempt(string(MethodStatic))
	client := e.Client
	if client == nil {
		client = &Client{}
	}
	body, _, err := client.Get(ctx, r.url)
	if err != nil {
		r.staticErr = err
		if !IsTransient(err) {
			r.escalation = ReasonStaticFailed
			return StateBrowserFallback
		}
		if r.attempts < e.maxAttempts() {
			return StateRetryWait
		}
		r.escalation = ReasonRetryExhausted
		return StateBrowserFallback
	}
	text := e.extractor().Extract(body, r.selector)
	if utf8.RuneCountInString(text) < e.renderThreshold() {
		r.escalation = ReasonUnderThreshold
		return StateBrowserFallback
	}
	r.text = extract.Truncate(text, e.TextLimit)
	r.method = MethodStatic
	return StateDone
}

func (e *Engine) retryWait(ctx context.Context, r *run) State {
	if err := e.sleep(ctx, e.backoff(r.attempts)); err != nil {
		r.err = fmt.Errorf("retry wait: %w", err)
		return StateFailed
	}
	return StateStaticAttempt
}

func (e *Engine) browserFallback(ctx context.Context, r *run) State {
	e.Metrics.FetchEscalation(r.escalation)
	r.method = MethodBrowser
	if e.Renderer == nil {
		r.err = ErrRendererUnavailable
		if r.staticErr != nil {
			r.err = fmt.Errorf("%w (static fetch: %v)", ErrRendererUnavailable, r.staticErr)
		}
		return StateFailed
	}
	r.attempts++
	e.Metrics.FetchAttempt(string(MethodBrowser))
	html, err := e.Renderer.Render(ctx, r.url)
	if err != nil {
		r.err = fmt.Errorf("browser render: %w", err)
		return StateFailed
	}
	r.text = extract.Truncate(e.extractor().Extract([]byte(html), r.selector), e.TextLimit)
	return StateDone
}

// backoff returns BaseDelay * 2^attempts: 1s after the first attempt, 2s
// after the second with the defaults.
func (e *Engine) backoff(attempts int) time.Duration {
	base := e.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base << uint(attempts)
}

func (e *Engine) maxAttempts() int {
	if e.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return e.MaxAttempts
}

func (e *Engine) renderThreshold() int {
	if e.RenderThreshold <= 0 {
		return DefaultRenderThreshold
	}
	return e.RenderThreshold
}

func (e *Engine) extractor() extract.Extractor {
	if e.Extractor == nil {
		return extract.SelectorExtractor{}
	}
	return e.Extractor
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
