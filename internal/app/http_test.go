package app

import (
	"net/http"
	"testing"
	"time"
)

func TestNewPoliteHTTPClient_Config(t *testing.T) {
	c := newPoliteHTTPClient(7 * time.Second)
	if c.Timeout != 7*time.Second {
		t.Fatalf("timeout = %v, want 7s", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected http.Transport")
	}
	if tr.MaxConnsPerHost == 0 || tr.MaxConnsPerHost > 4 {
		t.Fatalf("expected a small per-host connection cap, got %d", tr.MaxConnsPerHost)
	}
	if tr == http.DefaultTransport {
		t.Fatalf("transport should not be default")
	}
	if d := newPoliteHTTPClient(0); d.Timeout <= 0 {
		t.Fatalf("expected fallback timeout")
	}
}
