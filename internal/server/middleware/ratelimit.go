package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit caps requests per client IP per minute, sliding window.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByHeader caps requests per minute keyed on a header value
// instead of the client IP. The heartbeat endpoints use it keyed on
// X-Agent-Token: many agents can share a NAT address, and one
// misbehaving agent must not starve the rest.
func RateLimitByHeader(headerName string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return r.Header.Get(headerName), nil
		}),
	)
}
