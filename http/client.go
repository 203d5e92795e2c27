package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chronovista/internal/logger"
	"chronovista/internal/retry"
)

// DefaultMaxBodyBytes bounds how much of a response body is read. Archived
// watch pages are large but well under this.
const DefaultMaxBodyBytes = 8 << 20

// Client wraps an HTTP client with retry logic, rate limiting and a circuit breaker.
type Client struct {
	base           *http.Client
	config         *Config
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
	log            logger.Logger
}

// Config holds HTTP client configuration including retry and rate limit settings.
type Config struct {
	// Timeout for individual HTTP requests
	Timeout time.Duration

	// Retry configuration
	Retry retry.Config

	// User agent for HTTP requests
	UserAgent string

	// Rate limiter configuration, used when no limiter is injected with WithRateLimiter
	RateLimiter RateLimiterConfig

	// Circuit breaker configuration
	CircuitBreaker CircuitBreakerConfig

	// Connection pool configuration
	Transport TransportConfig

	// MaxBodyBytes limits how much of a response body is read (default 8 MiB)
	MaxBodyBytes int64
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	// MaxIdleConns is the maximum number of idle connections across all hosts.
	MaxIdleConns int
	// MaxIdleConnsPerHost is the maximum idle connections per host.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost is the maximum concurrent connections per host.
	MaxConnsPerHost int
	// IdleConnTimeout is the maximum amount of time an idle connection can remain open.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults for talking to the Wayback Machine.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		Retry:          retry.DefaultConfig(),
		UserAgent:      "chronovista/1.0 (+https://github.com/chronovista/chronovista)",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Transport:      DefaultTransportConfig(),
		MaxBodyBytes:   DefaultMaxBodyBytes,
	}
}

// DefaultTransportConfig returns sensible defaults for HTTP transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithRateLimiter makes the client share rl instead of building its own.
// Every client talking to the archive in one process should share a limiter.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *Client) {
		if rl != nil {
			c.rateLimiter = rl
		}
	}
}

// WithLogger sets the logger used for retry and circuit breaker events.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client. Tests use it to point
// at httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.base = hc
		}
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		base: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
		log:    logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(cfg.RateLimiter)
	}

	cbCfg := cfg.CircuitBreaker
	if cbCfg.OnStateChange == nil {
		log := c.log
		cbCfg.OnStateChange = func(host string, from, to CircuitState) {
			log.Warn("circuit breaker state change",
				logger.String("host", host),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		}
	}
	c.circuitBreaker = NewCircuitBreaker(cbCfg)

	return c
}

// HostState is the client's view of one host at a point in time.
type HostState struct {
	Host      string
	Circuit   CircuitState
	BackedOff bool
	RPS       float64
}

// HostState reports circuit and limiter state for the host of urlStr.
func (c *Client) HostState(urlStr string) HostState {
	host := hostOf(urlStr)
	return HostState{
		Host:      host,
		Circuit:   c.circuitBreaker.GetState(host),
		BackedOff: c.rateLimiter.IsBackedOff(urlStr),
		RPS:       c.rateLimiter.CurrentRate(urlStr),
	}
}

// Response represents an HTTP response with status code and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs a GET request with retry logic.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// Do performs a body-less HTTP request. Every attempt, retries included, waits
// for a rate limiter token first. 429 and 503 become *RateLimitError, other
// non-2xx statuses become *HTTPError.
func (c *Client) Do(ctx context.Context, method, urlStr string, headers map[string]string) (*Response, error) {
	host := hostOf(urlStr)

	if err := c.circuitBreaker.Allow(host); err != nil {
		return nil, err
	}

	retryCfg := c.config.Retry
	retryCfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.log.Debug("retrying request",
			logger.String("url", urlStr),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err))
	}

	var result *Response
	err := retry.Do(ctx, retryCfg, c.isRetryableHTTPError, func(ctx context.Context) error {
		if err := c.rateLimiter.WaitForBackoff(ctx, urlStr); err != nil {
			return err
		}
		if err := c.rateLimiter.Wait(ctx, urlStr); err != nil {
			return err
		}

		resp, err := c.attempt(ctx, method, urlStr, headers)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})

	if err != nil {
		// Cancellation by the caller says nothing about the host.
		if !errors.Is(err, context.Canceled) {
			c.circuitBreaker.RecordFailure(host, err)
		}
		return nil, err
	}
	if result == nil {
		c.circuitBreaker.RecordFailure(host, ErrNoResponse)
		return nil, ErrNoResponse
	}

	c.rateLimiter.RecordSuccess(urlStr)
	c.circuitBreaker.RecordSuccess(host)
	return result, nil
}

func (c *Client) attempt(ctx context.Context, method, urlStr string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", retry.ErrInvalidURL, err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if IsRateLimited(resp.StatusCode) {
		retryAfter := parseRetryAfter(resp.Header)
		if recommended := c.rateLimiter.RecordRateLimitError(urlStr, retryAfter); recommended > retryAfter {
			retryAfter = recommended
		}
		return nil, &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}
	}

	body, err := c.readBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: urlStr, Body: truncate(body, 512)}
	}
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// readBody reads at most MaxBodyBytes, failing with ErrBodyTooLarge beyond that.
func (c *Client) readBody(r io.Reader) ([]byte, error) {
	limit := c.config.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return body[:limit], ErrBodyTooLarge
	}
	return body, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// isRetryableHTTPError determines if an HTTP error is retryable.
func (c *Client) isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	if errors.Is(err, ErrBodyTooLarge) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ShouldRetry(httpErr.StatusCode)
	}

	return true
}

// Close closes idle connections.
func (c *Client) Close() error {
	if c.base != nil {
		c.base.CloseIdleConnections()
	}
	return nil
}
