package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request/response round trip.
const DefaultTimeout = 12 * time.Second

const UserAgent = "WeatherWidget/1.0"

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return NewClientWithTimeout(DefaultTimeout)
}

// NewClientWithTimeout returns an HTTP client whose per-request ceiling is
// timeout, or DefaultTimeout when timeout is not positive.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
	}
}
