package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"chronovista/internal/logger"
	"chronovista/internal/retry"
)

// testConfig returns a config with fast retries and no dynamic backoff so
// tests against httptest servers finish quickly.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Retry.InitialBackoff = 5 * time.Millisecond
	cfg.Retry.MaxBackoff = 20 * time.Millisecond
	cfg.Retry.MaxRetries = 2
	cfg.RateLimiter.EnableDynamicBackoff = false
	return cfg
}

func TestNewClientNilConfig(t *testing.T) {
	client := New(nil)
	if client == nil {
		t.Fatal("expected client to be created with default config")
	}
	if client.config.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Errorf("MaxBodyBytes = %d, want %d", client.config.MaxBodyBytes, DefaultMaxBodyBytes)
	}
	if client.rateLimiter == nil {
		t.Error("expected a rate limiter")
	}
	client.Close()
}

func TestNewClient_SharedRateLimiter(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	a := New(testConfig(), WithRateLimiter(rl))
	b := New(testConfig(), WithRateLimiter(rl))

	if a.rateLimiter != rl || b.rateLimiter != rl {
		t.Error("clients should share the injected limiter")
	}
}

func TestClientGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "chronovista/") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Write([]byte("test response"))
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "test response" {
		t.Errorf("expected 'test response', got %q", string(resp.Body))
	}
}

func TestClientDoWithHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(testConfig())
	resp, err := client.Do(context.Background(), http.MethodGet, server.URL, map[string]string{"Accept": "application/json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestClientRateLimitRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("success"))
	}))
	defer server.Close()

	client := New(testConfig())
	resp, err := client.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "success" {
		t.Errorf("body = %q", resp.Body)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestClientRateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(testConfig())
	_, err := client.Get(context.Background(), server.URL)

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", rlErr.StatusCode)
	}
	var retryErr *retry.RetryableError
	if !errors.As(err, &retryErr) {
		t.Errorf("expected RetryableError wrapper, got %T", err)
	}
}

// Every attempt, retries included, must take a limiter token.
func TestClientRetriesWaitOnRateLimiter(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = time.Millisecond
	rl := NewRateLimiter(RateLimiterConfig{ArchiveRPS: 1, DefaultRPS: 10})
	client := New(cfg, WithRateLimiter(rl))

	start := time.Now()
	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// three attempts at 10 rps => at least ~200ms
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("three attempts took %v, retries bypassed the limiter", elapsed)
	}
}

func TestClientNotFoundIsNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(testConfig())
	_, err := client.Get(context.Background(), server.URL)

	if !IsNotFound(err) {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
	var httpErr *HTTPError
	errors.As(err, &httpErr)
	if httpErr.URL != server.URL {
		t.Errorf("URL = %q, want %q", httpErr.URL, server.URL)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("404 retried: %d attempts", got)
	}
	if c := client.circuitBreaker.circuits[hostOf(server.URL)]; c != nil && c.failures != 0 {
		t.Error("404 must not count against the circuit")
	}
}

func TestClientServerErrorOpensCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	cfg := testConfig()
	cfg.Retry.MaxRetries = 0
	cfg.CircuitBreaker.FailureThreshold = 2
	client := New(cfg, WithLogger(logger.FromZap(zap.New(core))))

	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), server.URL); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if logs.FilterMessage("circuit breaker state change").Len() != 1 {
		t.Errorf("expected one state change log, got %d", logs.Len())
	}
	if got := client.HostState(server.URL).Circuit; got != CircuitOpen {
		t.Errorf("HostState().Circuit = %v, want open", got)
	}
}

func TestClientHostState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Retry.MaxRetries = 0
	cfg.RateLimiter.EnableDynamicBackoff = true
	cfg.RateLimiter.CustomRates = map[string]float64{"127.0.0.1": 100}
	client := New(cfg)

	before := client.HostState(server.URL)
	if before.Host != "127.0.0.1" || before.Circuit != CircuitClosed || before.BackedOff || before.RPS != 100 {
		t.Fatalf("HostState() before requests = %+v", before)
	}

	if _, err := client.Get(context.Background(), server.URL); err == nil {
		t.Fatal("expected error")
	}

	after := client.HostState(server.URL)
	if !after.BackedOff {
		t.Error("host should be backed off after a 429")
	}
	if after.RPS != 75 {
		t.Errorf("RPS = %v, want 75 after one rate limit error", after.RPS)
	}
	if after.Circuit != CircuitClosed {
		t.Errorf("Circuit = %v, want closed below the failure threshold", after.Circuit)
	}
}

func TestClientBodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	client := New(cfg)

	_, err := client.Get(context.Background(), server.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestClientContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := New(testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL)
	if !IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestClientInvalidURL(t *testing.T) {
	client := New(testConfig())
	_, err := client.Get(context.Background(), "://bad")
	if !errors.Is(err, retry.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "5", 5 * time.Second},
		{"padded", " 3 ", 3 * time.Second},
		{"negative", "-1", 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			if got := parseRetryAfter(h); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))

	got := parseRetryAfter(h)
	if got <= 0 || got > 11*time.Second {
		t.Errorf("parseRetryAfter(date) = %v, want ~10s", got)
	}
}

func TestStatusHelpers(t *testing.T) {
	if !IsRateLimited(429) || !IsRateLimited(503) || IsRateLimited(500) {
		t.Error("IsRateLimited misclassifies")
	}
	if !ShouldRetry(502) || !ShouldRetry(408) || ShouldRetry(404) {
		t.Error("ShouldRetry misclassifies")
	}
}

func TestErrorMessages(t *testing.T) {
	rl := &RateLimitError{StatusCode: 429, RetryAfter: 2 * time.Second}
	if !strings.Contains(rl.Error(), "429") || !strings.Contains(rl.Error(), "2s") {
		t.Errorf("RateLimitError.Error() = %q", rl.Error())
	}
	he := &HTTPError{StatusCode: 404, URL: "https://web.archive.org/x"}
	if !strings.Contains(he.Error(), "404") || !strings.Contains(he.Error(), "web.archive.org") {
		t.Errorf("HTTPError.Error() = %q", he.Error())
	}
}
