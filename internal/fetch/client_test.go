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

	"github.com/hyperifyio/eventcollector/internal/cache"
)

func TestClient_Get_Success(t *testing.T) {
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><p>Hei</p></body></html>"))
	}))
	defer ts.Close()

	c := &Client{UserAgent: "eventcollector-test", PerRequestTimeout: 5 * time.Second}
	body, ct, err := c.Get(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(string(body), "<p>Hei</p>") {
		t.Fatalf("unexpected body %q", body)
	}
	if !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if gotUA != "eventcollector-test" {
		t.Fatalf("user agent not sent: %q", gotUA)
	}
}

func TestClient_Get_StatusErrors(t *testing.T) {
	tests := []struct {
		code      int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))
		_, _, err := (&Client{}).Get(context.Background(), ts.URL)
		ts.Close()
		var se *StatusError
		if !errors.As(err, &se) || se.Code != tt.code {
			t.Fatalf("status %d: expected StatusError, got %v", tt.code, err)
		}
		if IsTransient(err) != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v", tt.code, !tt.transient, tt.transient)
		}
	}
}

func TestClient_Get_RejectsNonHTTP(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/file", "file:///etc/passwd"} {
		_, _, err := (&Client{}).Get(context.Background(), raw)
		if err == nil {
			t.Fatalf("%s: expected error", raw)
		}
		if IsTransient(err) {
			t.Fatalf("%s: scheme rejection must not be transient", raw)
		}
	}
	if _, _, err := (&Client{}).Get(context.Background(), "not a url"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestClient_Get_RejectsContentType(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer ts.Close()
	_, _, err := (&Client{}).Get(context.Background(), ts.URL)
	if !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("expected ErrUnsupportedContentType, got %v", err)
	}
	if IsTransient(err) {
		t.Fatalf("content type rejection must not be transient")
	}
}

func TestClient_Get_RedirectLimit(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, ts.URL+"/again", http.StatusFound)
	}))
	defer ts.Close()
	_, _, err := (&Client{RedirectMaxHops: 2}).Get(context.Background(), ts.URL)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
	if IsTransient(err) {
		t.Fatalf("redirect loop must not be transient")
	}
}

func TestClient_Get_BodyCap(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer ts.Close()
	body, _, err := (&Client{MaxBodyBytes: 10}).Get(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(body) != 10 {
		t.Fatalf("expected body capped at 10 bytes, got %d", len(body))
	}
}

func TestClient_Get_DecodesCharset(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "Brønnøy" in Latin-1
		_, _ = w.Write([]byte{'B', 'r', 0xF8, 'n', 'n', 0xF8, 'y'})
	}))
	defer ts.Close()
	body, _, err := (&Client{}).Get(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "Brønnøy" {
		t.Fatalf("expected UTF-8 decoded body, got %q", body)
	}
}

func TestClient_Get_ConditionalCache(t *testing.T) {
	var hits, notModified int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			atomic.AddInt32(&notModified, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("<p>cached page</p>"))
	}))
	defer ts.Close()

	c := &Client{Cache: &cache.HTTPCache{Dir: t.TempDir()}}
	first, _, err := c.Get(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	second, ct, err := c.Get(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("cached body mismatch: %q vs %q", first, second)
	}
	if !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected cached content type, got %q", ct)
	}
	if atomic.LoadInt32(&hits) != 2 || atomic.LoadInt32(&notModified) != 1 {
		t.Fatalf("expected one conditional revalidation, hits=%d notModified=%d", hits, notModified)
	}
}

func TestClient_Get_CacheLabelsDecodedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"l1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.Header().Set("ETag", `"l1"`)
		_, _ = w.Write([]byte{'B', 'r', 0xF8, 'n', 'n', 0xF8, 'y'})
	}))
	defer ts.Close()

	hc := &cache.HTTPCache{Dir: t.TempDir()}
	c := &Client{Cache: hc}
	_, ct, err := c.Get(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if ct != "text/html; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
	meta, err := hc.LoadMeta(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}
	if meta.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("cached content type = %q", meta.ContentType)
	}

	body, ct, err := c.Get(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("revalidated Get: %v", err)
	}
	if string(body) != "Brønnøy" || ct != "text/html; charset=utf-8" {
		t.Fatalf("revalidated body %q with type %q", body, ct)
	}
}

func TestDecodedContentType(t *testing.T) {
	tests := []struct{ in, want string }{
		{"text/html; charset=iso-8859-1", "text/html; charset=utf-8"},
		{"text/html", "text/html; charset=utf-8"},
		{"application/xhtml+xml; charset=windows-1252", "application/xhtml+xml; charset=utf-8"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := decodedContentType(tt.in); got != tt.want {
			t.Errorf("decodedContentType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsTransient_TransportAndCancel(t *testing.T) {
	if !IsTransient(errors.New("connection reset by peer")) {
		t.Fatalf("transport errors should be transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatalf("cancellation must not be transient")
	}
	if IsTransient(nil) {
		t.Fatalf("nil is not an error")
	}
}
