package parksapi

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	internalbackoff "github.com/ThemeParks/parksapi-sub000/internal/backoff"
)

// RetryPolicy decides whether a failed attempt should be retried and after
// what delay. When installed it replaces the engine's built-in retry
// condition and backoff calculation.
type RetryPolicy interface {
	// ShouldRetry inspects the response (nil on transport failure), the
	// error and the zero-based attempt counter, returning the delay before
	// the next attempt and whether to retry at all.
	ShouldRetry(resp *Response, err error, attempt int) (time.Duration, bool)
}

// BackoffStrategy selects the jitter algorithm used when computing retry
// delays.
type BackoffStrategy int

const (
	// SymmetricJitter perturbs the capped exponential delay uniformly
	// within a ±jitter band around the ideal schedule.
	SymmetricJitter BackoffStrategy = iota
	// DecorrelatedJitter spreads delays per the AWS decorrelated-jitter
	// scheme for smoother tail latencies under contention.
	DecorrelatedJitter
)

// calculatorFor returns the backoff calculator implementing strategy.
func calculatorFor(strategy BackoffStrategy) *internalbackoff.Calculator {
	if strategy == DecorrelatedJitter {
		return internalbackoff.GetDecorrelatedJitterCalculator()
	}
	return internalbackoff.GetSymmetricJitterCalculator()
}

// DefaultRetryPolicy retries transport errors and 429/5xx responses, honoring
// the Retry-After header when the server sends one.
type DefaultRetryPolicy struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	backoffCalculator *internalbackoff.Calculator
}

// NewDefaultRetryPolicy creates a retry policy with symmetric-jitter
// exponential backoff.
func NewDefaultRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return NewDefaultRetryPolicyWithStrategy(maxRetries, initialBackoff, maxBackoff, multiplier, jitter, SymmetricJitter)
}

// NewDefaultRetryPolicyWithStrategy creates a retry policy using the given
// backoff strategy.
func NewDefaultRetryPolicyWithStrategy(maxRetries int, initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		maxRetries:        maxRetries,
		initialBackoff:    initialBackoff,
		maxBackoff:        maxBackoff,
		backoffMultiplier: multiplier,
		jitter:            jitter,
		backoffStrategy:   strategy,
		backoffCalculator: calculatorFor(strategy),
	}
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(resp *Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxRetries {
		return 0, false
	}

	shouldRetry := false
	var delay time.Duration

	if err != nil {
		shouldRetry = true
	} else if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			shouldRetry = true
			delay = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
	}

	if !shouldRetry {
		return 0, false
	}

	if delay == 0 {
		delay = p.backoffCalculator.Calculate(attempt, p.initialBackoff, p.maxBackoff, p.backoffMultiplier, p.jitter)
	}

	return delay, true
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour // Cap at 1 hour
			}
			return delay
		}
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget bounds how many retries the engine may schedule per window,
// across all requests, so a failing upstream cannot multiply traffic.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget creates a new retry budget tracker.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow checks if a retry is allowed under the current budget.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	current := atomic.LoadInt64(&rb.current)
	if current >= rb.maxRetries {
		return false
	}

	newCurrent := atomic.AddInt64(&rb.current, 1)
	return newCurrent <= rb.maxRetries
}

// GetStats returns current retry budget statistics.
func (rb *RetryBudget) GetStats() (current, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&rb.current),
		rb.maxRetries,
		time.Unix(0, atomic.LoadInt64(&rb.windowStart))
}
