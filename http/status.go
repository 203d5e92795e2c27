package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// IsRateLimited reports whether a status code is the archive's throttling signal.
// The Wayback Machine answers 429 under load and 503 when a backend is saturated.
func IsRateLimited(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable
}

// IsServerError checks if status code is a server error (5xx).
func IsServerError(statusCode int) bool {
	return statusCode >= 500 && statusCode < 600
}

// ShouldRetry determines if a request should be retried based on status code.
func ShouldRetry(statusCode int) bool {
	if IsServerError(statusCode) {
		return true
	}
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

// parseRetryAfter reads the Retry-After header as seconds or an HTTP date.
// Returns 0 when absent or unparseable.
func parseRetryAfter(header http.Header) time.Duration {
	retryAfter := strings.TrimSpace(header.Get("Retry-After"))
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
