package parksapi

import (
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultsAreValid(t *testing.T) {
	e := New()
	if !e.IsValid() {
		t.Fatalf("default engine invalid: %v", e.ValidationError())
	}
	if e.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", e.maxRetries)
	}
	if e.initialBackoff != 100*time.Millisecond {
		t.Errorf("initialBackoff = %v, want 100ms", e.initialBackoff)
	}
	if e.dispatchInterval != 50*time.Millisecond {
		t.Errorf("dispatchInterval = %v, want 50ms", e.dispatchInterval)
	}
}

func TestOptionsApply(t *testing.T) {
	client := &http.Client{}
	logger := NewSimpleLogger()
	e := New(
		WithHTTPClient(client),
		WithTimeout(5*time.Second),
		WithMaxRetries(7),
		WithInitialBackoff(time.Millisecond),
		WithMaxBackoff(time.Second),
		WithBackoffMultiplier(3),
		WithJitter(0.5),
		WithMemoryCache(10),
		WithRateLimiter(5, time.Second),
		WithCircuitBreaker(CircuitBreakerConfig{}),
		WithDispatchInterval(time.Millisecond),
		WithPollInterval(time.Millisecond),
		WithLogger(logger),
		WithTraceHistorySize(50),
	)
	if !e.IsValid() {
		t.Fatalf("engine invalid: %v", e.ValidationError())
	}
	if e.httpClient != client {
		t.Error("WithHTTPClient not applied")
	}
	if e.httpClient.Timeout != 5*time.Second {
		t.Errorf("client timeout = %v, want 5s", e.httpClient.Timeout)
	}
	if e.maxRetries != 7 {
		t.Errorf("maxRetries = %d, want 7", e.maxRetries)
	}
	if e.jitter != 0.5 {
		t.Errorf("jitter = %v, want 0.5", e.jitter)
	}
	if e.cache == nil {
		t.Error("WithMemoryCache not applied")
	}
	if e.rateLimiter == nil || e.circuitBreaker == nil {
		t.Error("reliability layers not applied")
	}
	if e.logger != logger {
		t.Error("WithLogger not applied")
	}
}

func TestWithJitterClamps(t *testing.T) {
	if e := New(WithJitter(2.5)); e.jitter != 1 {
		t.Errorf("jitter = %v, want clamped to 1", e.jitter)
	}
	if e := New(WithJitter(-0.5)); e.jitter != 0 {
		t.Errorf("jitter = %v, want clamped to 0", e.jitter)
	}
}

func TestValidationRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		wantMsg string
	}{
		{"negative retries", []Option{WithMaxRetries(-1)}, "maxRetries"},
		{"zero backoff", []Option{WithInitialBackoff(0)}, "initialBackoff"},
		{"inverted backoff", []Option{WithInitialBackoff(time.Minute), WithMaxBackoff(time.Second)}, "maxBackoff"},
		{"zero multiplier", []Option{WithBackoffMultiplier(0)}, "backoffMultiplier"},
		{"zero timeout", []Option{WithTimeout(0)}, "timeout"},
		{"debug without logger", []Option{WithDebug()}, "logger"},
		{"extreme retries", []Option{WithMaxRetries(500)}, "maxRetries"},
		{"extreme backoff", []Option{WithMaxBackoff(2 * time.Hour)}, "maxBackoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.options...)
			if e.IsValid() {
				t.Fatal("expected invalid configuration")
			}
			if err := e.ValidationError(); !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("ValidationError() = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestWithSimpleLoggerEnablesDebug(t *testing.T) {
	e := New(WithSimpleLogger())
	if !e.IsValid() {
		t.Fatalf("engine invalid: %v", e.ValidationError())
	}
	if e.debug == nil || !e.debug.Enabled {
		t.Error("WithSimpleLogger should enable debug")
	}
	if e.logger == nil {
		t.Error("WithSimpleLogger should install a logger")
	}
}

func TestWithRequestIDGenerator(t *testing.T) {
	e := New(WithRequestIDGenerator(func() string { return "fixed-id" }))
	if got := e.debug.RequestIDGen(); got != "fixed-id" {
		t.Errorf("RequestIDGen() = %q, want fixed-id", got)
	}
}

func TestWithSQLiteCacheAppliesLoggerListedAfter(t *testing.T) {
	logger := NewSimpleLogger()
	path := filepath.Join(t.TempDir(), "cache.db")

	e := New(WithSQLiteCache(path, 10), WithLogger(logger))
	if !e.IsValid() {
		t.Fatalf("engine invalid: %v", e.ValidationError())
	}
	cache, ok := e.cache.(*SQLiteCache)
	if !ok {
		t.Fatalf("cache type = %T, want *SQLiteCache", e.cache)
	}
	t.Cleanup(func() { cache.Close() })

	if cache.logger != logger {
		t.Error("sqlite cache should log through the configured logger")
	}
}

func TestLaterCacheOptionOverridesSQLiteCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	e := New(WithSQLiteCache(path, 10), WithMemoryCache(5))
	mem, ok := e.cache.(*MemoryCache)
	if !ok {
		t.Fatalf("cache type = %T, want *MemoryCache", e.cache)
	}
	mem.Close()
}
