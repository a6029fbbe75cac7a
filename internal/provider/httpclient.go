package provider

import (
	"net"
	"net/http"
	"time"
)

// Generation is interactive; transcription and synthesis move whole audio
// payloads and get a longer budget. Each call is a single attempt — a
// timeout is the same failure as any other adapter error.
const (
	ChatTimeout  = 120 * time.Second
	AudioTimeout = 300 * time.Second
)

// SharedHTTPClient returns an HTTP client with connection pooling. Use this
// instead of creating individual clients per provider.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = ChatTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
