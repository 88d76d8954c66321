package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hyperifyio/eventcollector/internal/extract"
)

type fakeRenderer struct {
	html  string
	err   error
	calls int32
	urls  []string
}

func (f *fakeRenderer) Render(_ context.Context, url string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.urls = append(f.urls, url)
	return f.html, f.err
}

type sleepRecorder struct{ waits []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func htmlServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func page(words int) string {
	return "<html><body><main><p>" + strings.Repeat("konsert ", words) + "</p></main></body></html>"
}

func newEngine(r Renderer, rec *sleepRecorder) *Engine {
	e := &Engine{Client: &Client{PerRequestTimeout: 5 * time.Second}, Sleep: rec.sleep}
	if r != nil {
		e.Renderer = r
	}
	return e
}

func TestFetchPage_LongStaticSucceeds(t *testing.T) {
	ts := htmlServer(t, page(100))
	r := &fakeRenderer{}
	rec := &sleepRecorder{}
	res := newEngine(r, rec).FetchPage(context.Background(), ts.URL, "")
	if !res.OK() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if res.Method != MethodStatic || res.Attempts != 1 {
		t.Fatalf("expected one static attempt, got %s/%d", res.Method, res.Attempts)
	}
	if r.calls != 0 {
		t.Fatalf("renderer must not be used for long static pages")
	}
	if !strings.HasPrefix(res.Text, "konsert konsert") {
		t.Fatalf("unexpected text %q", res.Text[:20])
	}
}

func TestFetchPage_ShortStaticEscalates(t *testing.T) {
	ts := htmlServer(t, "<html><body><div id=app>Loading</div></body></html>")
	r := &fakeRenderer{html: page(100)}
	res := newEngine(r, &sleepRecorder{}).FetchPage(context.Background(), ts.URL, "")
	if !res.OK() || res.Method != MethodBrowser {
		t.Fatalf("expected browser success, got %+v", res)
	}
	if r.calls != 1 || r.urls[0] != ts.URL {
		t.Fatalf("expected single render of %s, got %v", ts.URL, r.urls)
	}
}

func TestFetchPage_ThresholdBoundary(t *testing.T) {
	// 62 words trim to 495 chars, 63 words to 503.
	tests := []struct {
		words  int
		method Method
	}{
		{62, MethodBrowser},
		{63, MethodStatic},
	}
	for _, tt := range tests {
		ts := htmlServer(t, page(tt.words))
		res := newEngine(&fakeRenderer{html: page(100)}, &sleepRecorder{}).FetchPage(context.Background(), ts.URL, "")
		if res.Method != tt.method {
			t.Errorf("%d words: method %s, want %s", tt.words, res.Method, tt.method)
		}
	}
}

func TestFetchPage_TransportFailureExhaustsRetries(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	r := &fakeRenderer{err: errors.New("chrome crashed")}
	rec := &sleepRecorder{}
	res := newEngine(r, rec).FetchPage(context.Background(), url, "")
	if res.OK() {
		t.Fatalf("expected failure")
	}
	if res.Attempts != 4 {
		t.Fatalf("expected 3 static attempts plus one render, got %d", res.Attempts)
	}
	if len(rec.waits) != 2 || rec.waits[0] != time.Second || rec.waits[1] != 2*time.Second {
		t.Fatalf("unexpected backoff schedule %v", rec.waits)
	}
	if r.calls != 1 {
		t.Fatalf("renderer should run exactly once, ran %d", r.calls)
	}
	msg := res.FailureMessage()
	if !strings.HasPrefix(msg, "FETCH_ERROR: browser render: chrome crashed") ||
		!strings.HasSuffix(msg, ". Skip this source and move on to the next one.") {
		t.Fatalf("unexpected failure message %q", msg)
	}
	if !IsFetchError(msg) {
		t.Fatalf("IsFetchError should recognise %q", msg)
	}
}

func TestFetchPage_RetriesServerErrorThenSucceeds(t *testing.T) {
	var n int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page(100)))
	}))
	defer ts.Close()

	rec := &sleepRecorder{}
	res := newEngine(&fakeRenderer{}, rec).FetchPage(context.Background(), ts.URL, "")
	if !res.OK() || res.Method != MethodStatic || res.Attempts != 2 {
		t.Fatalf("expected static success on second attempt, got %+v", res)
	}
	if len(rec.waits) != 1 || rec.waits[0] != time.Second {
		t.Fatalf("unexpected waits %v", rec.waits)
	}
}

func TestFetchPage_ClientErrorSkipsRetries(t *testing.T) {
	var n int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	r := &fakeRenderer{html: page(10)}
	rec := &sleepRecorder{}
	res := newEngine(r, rec).FetchPage(context.Background(), ts.URL, "")
	if !res.OK() || res.Method != MethodBrowser {
		t.Fatalf("expected browser fallback, got %+v", res)
	}
	if n != 1 || len(rec.waits) != 0 {
		t.Fatalf("404 must not be retried: requests=%d waits=%v", n, rec.waits)
	}
}

func TestFetchPage_BrowserResultKeptRegardlessOfLength(t *testing.T) {
	ts := htmlServer(t, "<p>x</p>")
	res := newEngine(&fakeRenderer{html: "<p>tiny</p>"}, &sleepRecorder{}).FetchPage(context.Background(), ts.URL, "")
	if !res.OK() || res.Text != "tiny" {
		t.Fatalf("expected short browser text to be accepted, got %+v", res)
	}
}

func TestFetchPage_NoRenderer(t *testing.T) {
	ts := htmlServer(t, "<p>short</p>")
	res := (&Engine{Sleep: (&sleepRecorder{}).sleep}).FetchPage(context.Background(), ts.URL, "")
	if !errors.Is(res.Err, ErrRendererUnavailable) {
		t.Fatalf("expected ErrRendererUnavailable, got %v", res.Err)
	}
	if !IsFetchError(res.FailureMessage()) {
		t.Fatalf("failure message should carry the marker")
	}
}

func TestFetchPage_SelectorAppliesToBothPaths(t *testing.T) {
	long := "<html><body><nav>" + strings.Repeat("meny ", 200) + "</nav><main>" + strings.Repeat("hendelse ", 80) + "</main></body></html>"
	ts := htmlServer(t, long)
	res := newEngine(&fakeRenderer{}, &sleepRecorder{}).FetchPage(context.Background(), ts.URL, "main")
	if res.Method != MethodStatic || strings.Contains(res.Text, "meny") {
		t.Fatalf("selector not applied on static path: %+v", res.Method)
	}

	short := htmlServer(t, "<html><body><main>tom</main></body></html>")
	rendered := "<html><body><aside>annonse</aside><main>Konsert lørdag</main></body></html>"
	res = newEngine(&fakeRenderer{html: rendered}, &sleepRecorder{}).FetchPage(context.Background(), short.URL, "main")
	if res.Method != MethodBrowser || res.Text != "Konsert lørdag" {
		t.Fatalf("selector not applied on browser path: %+v", res)
	}
}

func TestFetchPage_TruncatesText(t *testing.T) {
	ts := htmlServer(t, page(1500))
	res := newEngine(nil, &sleepRecorder{}).FetchPage(context.Background(), ts.URL, "")
	if !res.OK() {
		t.Fatalf("unexpected failure %v", res.Err)
	}
	if !strings.HasSuffix(res.Text, extract.TruncationMarker(extract.DefaultLimit)) {
		t.Fatalf("expected truncation marker")
	}
	want := extract.DefaultLimit + utf8.RuneCountInString(extract.TruncationMarker(extract.DefaultLimit))
	if got := utf8.RuneCountInString(res.Text); got != want {
		t.Fatalf("expected %d runes, got %d", want, got)
	}
}

func TestFetchPage_CancelledDuringWait(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()
	e := &Engine{Client: &Client{}, Renderer: &fakeRenderer{}, Sleep: func(context.Context, time.Duration) error {
		return context.Canceled
	}}
	res := e.FetchPage(context.Background(), ts.URL, "")
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected cancellation to fail the fetch, got %v", res.Err)
	}
}

func TestState_String(t *testing.T) {
	want := map[State]string{
		StateStaticAttempt:   "static_attempt",
		StateRetryWait:       "retry_wait",
		StateBrowserFallback: "browser_fallback",
		StateDone:            "done",
		StateFailed:          "failed",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("%d: %q want %q", s, s.String(), w)
		}
	}
}

type fakeRobots struct {
	allow bool
	err   error
}

func (f fakeRobots) Allowed(context.Context, string) (bool, error) { return f.allow, f.err }

func TestFetchPage_RobotsDisallowSkipsBothPaths(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	t.Cleanup(ts.Close)
	r := &fakeRenderer{html: page(100)}
	e := newEngine(r, &sleepRecorder{})
	e.Robots = fakeRobots{allow: false}

	res := e.FetchPage(context.Background(), ts.URL, "")
	if !errors.Is(res.Err, ErrDisallowedByRobots) {
		t.Fatalf("err = %v, want ErrDisallowedByRobots", res.Err)
	}
	if atomic.LoadInt32(&hits) != 0 || r.calls != 0 || res.Attempts != 0 {
		t.Fatalf("disallowed page was fetched: hits=%d renders=%d attempts=%d", hits, r.calls, res.Attempts)
	}
	if !strings.HasPrefix(res.FailureMessage(), "FETCH_ERROR: disallowed by robots.txt") {
		t.Fatalf("unexpected message %q", res.FailureMessage())
	}
}

func TestFetchPage_RobotsLookupErrorProceeds(t *testing.T) {
	ts := htmlServer(t, page(100))
	e := newEngine(nil, &sleepRecorder{})
	e.Robots = fakeRobots{err: errors.New("robots.txt: unexpected status: 503")}
	if res := e.FetchPage(context.Background(), ts.URL, ""); !res.OK() || res.Method != MethodStatic {
		t.Fatalf("expected static success, got %+v", res)
	}
}
