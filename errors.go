package parksapi

import (
	"errors"
	"fmt"
	"time"
)

// Error type tags carried by EngineError.Type.
const (
	ErrorTypeMalformed     = "MalformedRequest"
	ErrorTypeNetwork       = "Network"
	ErrorTypeServer        = "Server"
	ErrorTypeClient        = "Client"
	ErrorTypeValidation    = "Validation"
	ErrorTypeConfiguration = "Configuration"
	ErrorTypeCache         = "Cache"
	ErrorTypeRateLimit     = "RateLimit"
	ErrorTypeCircuitOpen   = "CircuitOpen"
	ErrorTypeStopped       = "Stopped"
)

// Sentinel errors for common failure scenarios
var (
	// ErrMalformedRequest is returned when a producer yields a request
	// without a method or URL; nothing is queued in that case.
	ErrMalformedRequest = errors.New("parksapi: malformed request")

	// ErrValidationFailed is returned when a response body fails its
	// declared schema. Validation failures are terminal, never retried.
	ErrValidationFailed = errors.New("parksapi: response validation failed")

	// ErrCacheMiss is returned by cache helpers when a lookup fails.
	ErrCacheMiss = errors.New("parksapi: cache miss")

	// ErrRateLimited is returned when a request is denied due to rate limiting.
	ErrRateLimited = errors.New("parksapi: rate limited")

	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	ErrCircuitOpen = errors.New("parksapi: circuit open")

	// ErrRetryBudgetExceeded is returned when the engine-wide retry budget
	// is exhausted.
	ErrRetryBudgetExceeded = errors.New("parksapi: retry budget exceeded")

	// ErrEngineStopped is returned for futures rejected because the queue
	// was cleared or the engine shut down before dispatch.
	ErrEngineStopped = errors.New("parksapi: engine stopped")
)

// EngineError is the error type surfaced to callers of a wrapped method.
// It carries enough context to correlate a failure back to the logical
// operation and attempt that produced it.
type EngineError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	TraceID    string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// IsTransient determines if an error represents a transient failure that
// might succeed on retry. Returns true for network errors, 5xx responses,
// rate limiting and open circuits; false for malformed requests, schema
// validation failures and other client errors (except 429).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var engErr *EngineError
	if errors.As(err, &engErr) {
		switch engErr.Type {
		case ErrorTypeNetwork, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeClient:
			return engErr.StatusCode == 429
		default:
			return false
		}
	}

	return false
}

// Error implements error interface.
func (e *EngineError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *EngineError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*EngineError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *EngineError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.TraceID != "" {
		info += fmt.Sprintf("Trace ID: %s\n", e.TraceID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
