// Package http provides the HTTP client infrastructure used to talk to the
// Internet Archive: a shared per-host rate limiter, retries and a circuit breaker.
package http

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ArchiveHost is the host serving both the CDX index and archived snapshots.
const ArchiveHost = "web.archive.org"

// Backoff tuning for archive rate limiting.
const (
	// InitialBackoff is the first pause after a 429/503.
	InitialBackoff = 2 * time.Second
	// MaxBackoff caps the exponential pause.
	MaxBackoff = 60 * time.Second
	// BackoffMultiplier is the growth factor between consecutive rate limit errors.
	BackoffMultiplier = 2.0
	// BackoffCooldownPeriod is how long after the last error the original rate is restored.
	BackoffCooldownPeriod = 5 * time.Minute
	// MinRPSMultiplier is the floor of rate reduction (0.25 = 25% of configured rate).
	MinRPSMultiplier = 0.25
)

// RateLimiter throttles outbound requests per host with a token bucket.
// One instance is meant to be shared by every client in the process so that
// the aggregate request rate against a host stays bounded regardless of how
// many recoveries run concurrently. It is safe for concurrent use.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	backoffState map[string]*BackoffState
	mu           sync.RWMutex
	config       RateLimiterConfig
}

// BackoffState tracks rate limit backoff for a host.
type BackoffState struct {
	// CurrentBackoff is the current backoff duration
	CurrentBackoff time.Duration
	// LastError is when the last rate limit error occurred
	LastError time.Time
	// ConsecutiveErrors is the count of consecutive rate limit errors
	ConsecutiveErrors int
	// OriginalRPS is the configured rate restored after cooldown
	OriginalRPS float64
	// ReducedRPS is the current reduced rate (0 means using original)
	ReducedRPS float64
}

// RateLimiterConfig defines rate limiting behavior.
type RateLimiterConfig struct {
	// ArchiveRPS is the request rate for web.archive.org (default: 1.0).
	ArchiveRPS float64
	// DefaultRPS applies to hosts without an explicit rate; 0 means unlimited.
	DefaultRPS float64
	// CustomRates maps host names to RPS values.
	CustomRates map[string]float64
	// EnableDynamicBackoff lowers a host's rate after 429/503 responses.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig returns conservative defaults for the archive.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		ArchiveRPS:           1.0,
		DefaultRPS:           0,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
	}
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.ArchiveRPS <= 0 {
		cfg.ArchiveRPS = DefaultRateLimiterConfig().ArchiveRPS
	}
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}

	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		backoffState: make(map[string]*BackoffState),
		config:       cfg,
	}
}

// Wait blocks until the limiter admits one request to the host of urlStr.
// It returns the context error if ctx ends first. A nil limiter never blocks.
func (rl *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	if rl == nil {
		return nil
	}

	limiter := rl.getLimiter(hostOf(urlStr))
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// getLimiter returns the limiter for host, creating it on first use.
// Returns nil for hosts configured as unlimited.
func (rl *RateLimiter) getLimiter(host string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[host]; ok {
		return limiter
	}

	rps := rl.rpsLocked(host)
	if rps <= 0 {
		return nil
	}

	// Burst of 1 keeps requests evenly spaced instead of front-loaded.
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[host] = limiter
	return limiter
}

// rpsLocked returns the configured rate for host. Caller holds rl.mu.
func (rl *RateLimiter) rpsLocked(host string) float64 {
	if rps, ok := rl.config.CustomRates[host]; ok {
		return rps
	}
	if host == ArchiveHost || host == "archive.org" {
		return rl.config.ArchiveRPS
	}
	return rl.config.DefaultRPS
}

// hostOf extracts the host name (without port) from a URL string.
func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// CurrentRate returns the limit in effect for the host of urlStr, after any
// backoff reduction. Hosts not contacted yet report their configured rate.
func (rl *RateLimiter) CurrentRate(urlStr string) float64 {
	host := hostOf(urlStr)

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if limiter, ok := rl.limiters[host]; ok {
		return float64(limiter.Limit())
	}
	return rl.rpsLocked(host)
}

// RecordRateLimitError records a 429/503 for the host of urlStr and returns
// how long to back off before the next attempt.
func (rl *RateLimiter) RecordRateLimitError(urlStr string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialBackoff
	}

	host := hostOf(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.backoffState[host]
	if !exists {
		state = &BackoffState{
			CurrentBackoff: InitialBackoff,
			OriginalRPS:    rl.rpsLocked(host),
		}
		rl.backoffState[host] = state
	}

	state.LastError = time.Now()
	state.ConsecutiveErrors++

	// 2s -> 4s -> 8s ... capped at MaxBackoff
	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * BackoffMultiplier)
		if state.CurrentBackoff > MaxBackoff {
			state.CurrentBackoff = MaxBackoff
		}
	}

	effective := state.CurrentBackoff
	if retryAfter > effective {
		effective = retryAfter
		state.CurrentBackoff = retryAfter
	}

	rl.reduceRate(host, state)

	return effective
}

// reduceRate lowers the host's limit after consecutive errors:
// 1 error 75%, 2 errors 50%, 3+ errors 25%. Caller holds rl.mu.
func (rl *RateLimiter) reduceRate(host string, state *BackoffState) {
	if state.OriginalRPS <= 0 {
		return
	}

	factor := 1.0
	switch {
	case state.ConsecutiveErrors >= 3:
		factor = MinRPSMultiplier
	case state.ConsecutiveErrors == 2:
		factor = 0.5
	case state.ConsecutiveErrors == 1:
		factor = 0.75
	}

	state.ReducedRPS = state.OriginalRPS * factor
	if limiter, ok := rl.limiters[host]; ok {
		limiter.SetLimit(rate.Limit(state.ReducedRPS))
	}
}

// RecordSuccess records a successful request, relaxing any backoff state.
func (rl *RateLimiter) RecordSuccess(urlStr string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}

	host := hostOf(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.backoffState[host]
	if !exists {
		return
	}

	if time.Since(state.LastError) > BackoffCooldownPeriod {
		if limiter, ok := rl.limiters[host]; ok && state.ReducedRPS > 0 {
			limiter.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoffState, host)
		return
	}

	if state.ConsecutiveErrors > 0 {
		state.ConsecutiveErrors--

		// Recover to 50% of the original rate; full rate only after cooldown.
		if state.ReducedRPS > 0 && state.ConsecutiveErrors == 0 {
			half := state.OriginalRPS * 0.5
			if half > state.ReducedRPS {
				state.ReducedRPS = half
				if limiter, ok := rl.limiters[host]; ok {
					limiter.SetLimit(rate.Limit(half))
				}
			}
		}
	}
}

// GetBackoffState returns a copy of the backoff state for the host of urlStr,
// or nil when the host is not backing off.
func (rl *RateLimiter) GetBackoffState(urlStr string) *BackoffState {
	if rl == nil {
		return nil
	}

	host := hostOf(urlStr)

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if state, ok := rl.backoffState[host]; ok {
		cp := *state
		return &cp
	}
	return nil
}

// IsBackedOff returns true if the host is currently inside a backoff window.
func (rl *RateLimiter) IsBackedOff(urlStr string) bool {
	state := rl.GetBackoffState(urlStr)
	if state == nil {
		return false
	}
	return time.Since(state.LastError) < state.CurrentBackoff
}

// WaitForBackoff waits for the current backoff window of the host to expire.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, urlStr string) error {
	state := rl.GetBackoffState(urlStr)
	if state == nil {
		return nil
	}

	remaining := state.CurrentBackoff - time.Since(state.LastError)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
