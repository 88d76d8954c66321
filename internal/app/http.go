package app

import (
	"net"
	"net/http"
	"time"
)

// newPoliteHTTPClient returns a client for fetching municipal and venue
// sites one page at a time. Connection pools stay small; timeouts are kept
// reasonable to avoid hangs.
func newPoliteHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   2,
		MaxConnsPerHost:       2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// newLLMHTTPClient allows long completions; the agent loop's wall clock and
// ctx bound the total.
func newLLMHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}
