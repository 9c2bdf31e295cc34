package httputil

import (
	"net/http"
	"time"
)

const DefaultTimeout = 30 * time.Second

// NewClient returns an HTTP client with standard timeout configuration.
// Per-call deadlines come from the request context; the client timeout is
// the backstop for callers passing context.Background().
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}
