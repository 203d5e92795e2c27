package http

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// CircuitState is the state of one host's circuit.
type CircuitState int

const (
	// CircuitClosed lets every request through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the recovery timeout passes.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probe requests through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold    = 5
	DefaultRecoveryTimeout     = 30 * time.Second
	DefaultHalfOpenMaxRequests = 1
)

// ErrCircuitOpen is returned by Allow while a host's circuit rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker. Zero values fall back to
// the Default constants.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive transient failures open the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit waits before probing.
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests bounds the probes allowed while half-open.
	HalfOpenMaxRequests int
	// IsTransientError decides which failures count. Nil counts all of them.
	IsTransientError func(error) bool
	// OnStateChange, if set, is called on every transition while the breaker's
	// lock is held; it must not call back into the breaker.
	OnStateChange func(host string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig counts only failures that say something about
// archive health.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    DefaultFailureThreshold,
		RecoveryTimeout:     DefaultRecoveryTimeout,
		HalfOpenMaxRequests: DefaultHalfOpenMaxRequests,
		IsTransientError:    IsTransientHTTPError,
	}
}

type hostCircuit struct {
	state    CircuitState
	failures int
	changed  time.Time
	probes   int
}

// CircuitBreaker tracks consecutive failures per host and fails fast once a
// host crosses the threshold. A nil *CircuitBreaker allows everything.
type CircuitBreaker struct {
	mu       sync.RWMutex
	config   CircuitBreakerConfig
	circuits map[string]*hostCircuit
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}
	return &CircuitBreaker{
		config:   cfg,
		circuits: make(map[string]*hostCircuit),
	}
}

// Allow returns ErrCircuitOpen when a request to host must not be sent. The
// first call after the recovery timeout moves the circuit to half-open and
// counts as its first probe.
func (cb *CircuitBreaker) Allow(host string) error {
	if cb == nil {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(host)
	if c.state == CircuitOpen && cb.recovered(c) {
		cb.transition(host, c, CircuitHalfOpen)
		c.probes = 0
	}

	switch c.state {
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if c.probes >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		c.probes++
	}
	return nil
}

// RecordSuccess clears the failure count and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(host)
	c.failures = 0
	if c.state == CircuitHalfOpen {
		cb.transition(host, c, CircuitClosed)
		c.probes = 0
	}
}

// RecordFailure counts err against host unless IsTransientError rejects it.
// A failed probe reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure(host string, err error) {
	if cb == nil {
		return
	}
	if cb.config.IsTransientError != nil && !cb.config.IsTransientError(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(host)
	c.failures++
	switch c.state {
	case CircuitClosed:
		if c.failures >= cb.config.FailureThreshold {
			cb.transition(host, c, CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(host, c, CircuitOpen)
	}
}

// GetState reports host's state, showing an open circuit whose recovery
// timeout has passed as half-open.
func (cb *CircuitBreaker) GetState(host string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}

	cb.mu.RLock()
	defer cb.mu.RUnlock()

	c, ok := cb.circuits[host]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && cb.recovered(c) {
		return CircuitHalfOpen
	}
	return c.state
}

func (cb *CircuitBreaker) recovered(c *hostCircuit) bool {
	return time.Since(c.changed) >= cb.config.RecoveryTimeout
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(host string, c *hostCircuit, to CircuitState) {
	from := c.state
	c.state = to
	c.changed = time.Now()
	if cb.config.OnStateChange != nil && from != to {
		cb.config.OnStateChange(host, from, to)
	}
}

// circuit must be called with cb.mu held.
func (cb *CircuitBreaker) circuit(host string) *hostCircuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &hostCircuit{state: CircuitClosed, changed: time.Now()}
		cb.circuits[host] = c
	}
	return c
}

// IsTransientHTTPError reports whether err reflects archive health: network
// failures, throttling, timeouts and 5xx. A 404 only means a URL was never
// archived, so it and other 4xx statuses do not count.
func IsTransientHTTPError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return IsServerError(httpErr.StatusCode) ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout
	}
	return true
}
