package parksapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	internalbackoff "github.com/ThemeParks/parksapi-sub000/internal/backoff"
)

func TestWithBackoffStrategy(t *testing.T) {
	tests := []struct {
		name     string
		strategy BackoffStrategy
		wantCalc internalbackoff.Strategy
	}{
		{
			name:     "SymmetricJitter",
			strategy: SymmetricJitter,
			wantCalc: internalbackoff.SymmetricJitterStrategy{},
		},
		{
			name:     "DecorrelatedJitter",
			strategy: DecorrelatedJitter,
			wantCalc: internalbackoff.DecorrelatedJitterStrategy{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(WithBackoffStrategy(tt.strategy))
			if e.backoffStrategy != tt.strategy {
				t.Errorf("backoffStrategy = %v, want %v", e.backoffStrategy, tt.strategy)
			}
			if got := e.backoffCalc.GetStrategy(); got != tt.wantCalc {
				t.Errorf("calculator strategy = %T, want %T", got, tt.wantCalc)
			}
		})
	}
}

func TestNewDefaultRetryPolicyWithStrategy(t *testing.T) {
	policy := NewDefaultRetryPolicyWithStrategy(3, 50*time.Millisecond, time.Second, 2.0, 0.1, DecorrelatedJitter)

	resp := &Response{StatusCode: http.StatusInternalServerError, Header: http.Header{}}

	// Decorrelated jitter always returns the base delay on the first attempt.
	delay, retry := policy.ShouldRetry(resp, nil, 0)
	if !retry {
		t.Fatal("ShouldRetry() = false, want retry for 500 response")
	}
	if delay != 50*time.Millisecond {
		t.Errorf("first retry delay = %v, want 50ms", delay)
	}

	for attempt := 1; attempt < 4; attempt++ {
		delay, retry = policy.ShouldRetry(resp, nil, attempt)
		if !retry {
			t.Fatalf("ShouldRetry(attempt=%d) = false, want retry", attempt)
		}
		if delay < 50*time.Millisecond || delay > time.Second {
			t.Errorf("attempt %d delay = %v, want within [50ms, 1s]", attempt, delay)
		}
	}
}

func TestEngineRetriesWithDecorrelatedJitter(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	e := newTestEngine(t, WithBackoffStrategy(DecorrelatedJitter))
	api := &parkAPI{BaseURL: server.URL}
	getData := interceptGet(t, e, api, "getData", "/data", InterceptConfig{})

	f, _ := getData(context.Background())
	resp, err := waitFor(t, f)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if n := atomic.LoadInt64(&hits); n != 2 {
		t.Errorf("server hits = %d, want 2", n)
	}
}
