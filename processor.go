package parksapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseSize caps how much of a response body is read into memory.
const maxResponseSize = 10 * 1024 * 1024

// run is the single consumer loop: dispatch the earliest-due entry, throttle
// by the fixed inter-dispatch delay, sleep briefly when nothing is due.
func (e *Engine) run(stop chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}

		now := time.Now()
		due, ok := e.queue.peekDue()
		if !ok || due.After(now) {
			if !e.sleep(stop, e.pollInterval) {
				return
			}
			continue
		}

		entry := e.queue.popDue(now)
		if entry == nil {
			continue
		}
		if e.metrics != nil {
			e.metrics.RecordQueueDepth(e.queue.len())
		}

		e.process(entry)

		// Global throttle between any two dispatched entries.
		if !e.sleep(stop, e.dispatchInterval) {
			return
		}
	}
}

// sleep waits for d or until stop closes; it reports false on stop.
func (e *Engine) sleep(stop chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

// process runs one dispatched entry to resolution, rejection or re-queue.
// No per-entry failure may escape: a panic here rejects the entry's future
// so one bad request cannot stall the rest of the queue.
func (e *Engine) process(entry *queueEntry) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error("Panic while processing entry", "requestID", entry.requestID, "panic", r)
			}
			entry.future.reject(&EngineError{
				Type:      ErrorTypeNetwork,
				Message:   fmt.Sprintf("panic while processing request: %v", r),
				RequestID: entry.requestID,
				Method:    entry.req.Method,
				URL:       entry.req.URL,
				Timestamp: time.Now(),
			})
		}
	}()

	// Restore the trace context captured at enqueue time, so every effect
	// of this dispatch (broadcasts, nested requests, retries) correlates
	// to the original operation.
	ctx := e.tracer.WithContext(context.Background(), entry.trace)
	endpoint := entry.req.Endpoint()

	e.tracer.Emit(ctx, &TraceEvent{
		Type:       TraceEventStart,
		URL:        entry.req.URL,
		Method:     entry.req.Method,
		RetryCount: entry.attempt,
		ClassName:  entry.className,
		MethodName: entry.methodName,
	})
	if e.metrics != nil {
		e.metrics.RecordRequestStart(entry.req.Method, endpoint)
		defer e.metrics.RecordRequestEnd(entry.req.Method, endpoint)
	}
	if e.debug != nil && e.debug.Enabled && e.debug.LogRequests && e.logger != nil {
		e.logger.Debug("Dispatching request",
			"requestID", entry.requestID, "method", entry.req.Method,
			"url", entry.req.URL, "attempt", entry.attempt)
	}

	// Handlers may rewrite the request in place before the cache lookup
	// and the network call.
	reqEvent := e.newEvent(EventRequest, entry, nil, nil)
	if err := e.bus.Broadcast(ctx, reqEvent); err != nil {
		if e.metrics != nil {
			e.metrics.RecordBroadcastHandlerError(EventRequest)
		}
		e.fail(ctx, entry, nil, e.newError(entry, ErrorTypeNetwork, "request broadcast failed", err, 0), start)
		return
	}

	cacheKey := entry.effectiveCacheKey()
	if e.cache != nil {
		if resp, ok := e.cacheLookup(cacheKey, entry); ok {
			duration := time.Since(start)
			if e.metrics != nil {
				e.metrics.RecordCacheHit(entry.req.Method, endpoint)
				e.metrics.RecordRequest(entry.req.Method, endpoint, resp.StatusCode, duration)
			}
			if e.debug != nil && e.debug.Enabled && e.debug.LogCache && e.logger != nil {
				e.logger.Debug("Cache hit", "requestID", entry.requestID, "cacheKey", cacheKey)
			}
			e.tracer.Emit(ctx, &TraceEvent{
				Type:       TraceEventComplete,
				URL:        entry.req.URL,
				Method:     entry.req.Method,
				Status:     resp.StatusCode,
				Duration:   duration,
				CacheHit:   true,
				RetryCount: entry.attempt,
				ClassName:  entry.className,
				MethodName: entry.methodName,
			})
			entry.future.resolve(resp)
			return
		}
		if e.metrics != nil {
			e.metrics.RecordCacheMiss(entry.req.Method, endpoint)
		}
	}

	// A denied rate-limiter token postpones the entry without consuming
	// the caller's retry budget.
	if e.rateLimiter != nil {
		if !e.rateLimiter.Allow() {
			if e.debug != nil && e.debug.Enabled && e.debug.LogRateLimit && e.logger != nil {
				e.logger.Warn("Rate limit exceeded, postponing", "requestID", entry.requestID, "endpoint", endpoint)
			}
			if e.metrics != nil {
				e.metrics.RecordError(ErrorTypeRateLimit, entry.req.Method, endpoint)
			}
			entry.dueAt = time.Now().Add(e.rateLimiter.RefillInterval())
			e.enqueue(entry)
			return
		}
		if e.metrics != nil {
			e.metrics.RecordRateLimiterTokens("default", e.rateLimiter.Tokens())
		}
	}

	if e.circuitBreaker != nil && !e.circuitBreaker.Allow() {
		if e.debug != nil && e.debug.Enabled && e.debug.LogCircuit && e.logger != nil {
			e.logger.Warn("Circuit breaker open", "requestID", entry.requestID, "endpoint", endpoint)
		}
		if e.metrics != nil {
			e.metrics.RecordError(ErrorTypeCircuitOpen, entry.req.Method, endpoint)
		}
		e.fail(ctx, entry, nil, e.newError(entry, ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen, 0), start)
		return
	}

	resp, err := e.doRequest(ctx, entry.req)

	if e.circuitBreaker != nil {
		if err != nil || resp.StatusCode >= 500 {
			e.circuitBreaker.RecordFailure()
		} else {
			e.circuitBreaker.RecordSuccess()
		}
		if e.metrics != nil {
			e.metrics.RecordCircuitBreakerState("default", e.circuitBreaker.State())
		}
	}

	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError(ErrorTypeNetwork, entry.req.Method, endpoint)
		}
		e.fail(ctx, entry, nil, e.newError(entry, ErrorTypeNetwork, "network request failed", err, 0), start)
		return
	}
	if resp.StatusCode >= 400 {
		errType := ErrorTypeClient
		if resp.StatusCode >= 500 {
			errType = ErrorTypeServer
		}
		if e.metrics != nil {
			e.metrics.RecordError(errType, entry.req.Method, endpoint)
		}
		e.fail(ctx, entry, resp, e.newError(entry, errType,
			fmt.Sprintf("request failed with status %d", resp.StatusCode), nil, resp.StatusCode), start)
		return
	}

	// Cache before the response broadcast: handlers rewrite what the
	// caller sees, not what later calls replay.
	if e.cache != nil {
		if ttl := entry.ttlFor(resp); ttl > 0 {
			if data, merr := json.Marshal(storedResponse{
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       resp.Body,
				URL:        resp.URL,
			}); merr == nil {
				e.cache.Set(cacheKey, data, ttl)
				if e.metrics != nil {
					e.metrics.RecordCacheSize("default", e.cache.Size())
					if reporter, ok := e.cache.(evictionReporter); ok {
						e.metrics.RecordCacheEvictions("default", reporter.Evictions())
					}
				}
				if e.debug != nil && e.debug.Enabled && e.debug.LogCache && e.logger != nil {
					e.logger.Debug("Response cached", "requestID", entry.requestID, "cacheKey", cacheKey, "ttl", ttl)
				}
			}
		}
	}

	runCallbacks(entry.req, resp, e.logger)

	respEvent := e.newEvent(EventResponse, entry, resp, nil)
	if berr := e.bus.Broadcast(ctx, respEvent); berr != nil {
		if e.metrics != nil {
			e.metrics.RecordBroadcastHandlerError(EventResponse)
		}
		e.fail(ctx, entry, resp, e.newError(entry, ErrorTypeNetwork, "response broadcast failed", berr, resp.StatusCode), start)
		return
	}

	if entry.schema != nil {
		if verr := validateResponseBody(entry.schema, resp.Body); verr != nil {
			duration := time.Since(start)
			engErr := e.newError(entry, ErrorTypeValidation, "response failed schema validation", verr, resp.StatusCode)
			engErr.Duration = duration
			e.tracer.Emit(ctx, &TraceEvent{
				Type:       TraceEventError,
				URL:        entry.req.URL,
				Method:     entry.req.Method,
				Status:     resp.StatusCode,
				Duration:   duration,
				Error:      engErr.Error(),
				Headers:    resp.Header,
				Body:       string(resp.Body),
				RetryCount: entry.attempt,
				ClassName:  entry.className,
				MethodName: entry.methodName,
			})
			if e.metrics != nil {
				e.metrics.RecordError(ErrorTypeValidation, entry.req.Method, endpoint)
			}
			e.broadcastError(ctx, entry, resp, engErr)
			entry.future.reject(engErr)
			return
		}
	}

	duration := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordRequest(entry.req.Method, endpoint, resp.StatusCode, duration)
	}
	e.tracer.Emit(ctx, &TraceEvent{
		Type:       TraceEventComplete,
		URL:        entry.req.URL,
		Method:     entry.req.Method,
		Status:     resp.StatusCode,
		Duration:   duration,
		RetryCount: entry.attempt,
		ClassName:  entry.className,
		MethodName: entry.methodName,
	})
	entry.future.resolve(resp)
}

// fail handles one failed attempt: emit the error trace event, run the
// error broadcast, then either re-queue with backoff or reject the future.
func (e *Engine) fail(ctx context.Context, entry *queueEntry, resp *Response, engErr *EngineError, start time.Time) {
	duration := time.Since(start)
	engErr.Duration = duration

	status := 0
	var headers http.Header
	body := ""
	if resp != nil {
		status = resp.StatusCode
		headers = resp.Header
		body = string(resp.Body)
	}
	e.tracer.Emit(ctx, &TraceEvent{
		Type:       TraceEventError,
		URL:        entry.req.URL,
		Method:     entry.req.Method,
		Status:     status,
		Duration:   duration,
		Error:      engErr.Error(),
		Headers:    headers,
		Body:       body,
		RetryCount: entry.attempt,
		ClassName:  entry.className,
		MethodName: entry.methodName,
	})
	e.broadcastError(ctx, entry, resp, engErr)

	var cause error = engErr
	if engErr.Cause != nil {
		cause = engErr.Cause
	}

	var delay time.Duration
	retryable := false
	if e.retryPolicy != nil {
		delay, retryable = e.retryPolicy.ShouldRetry(resp, cause, entry.attempt)
	} else if e.retryCondition(resp, cause) {
		retryable = true
		delay = e.backoffCalc.Calculate(entry.attempt, e.initialBackoff, e.maxBackoff, e.backoffMultiplier, e.jitter)
	}

	if !retryable || entry.retriesLeft <= 0 {
		entry.future.reject(engErr)
		return
	}

	if e.retryBudget != nil && !e.retryBudget.Allow() {
		if e.debug != nil && e.debug.Enabled && e.debug.LogRetries && e.logger != nil {
			e.logger.Warn("Retry budget exceeded", "requestID", entry.requestID)
		}
		if e.metrics != nil {
			e.metrics.RecordRetryBudgetExceeded(entry.req.Endpoint())
		}
		entry.future.reject(e.newError(entry, ErrorTypeRateLimit, "retry budget exceeded", ErrRetryBudgetExceeded, status))
		return
	}

	entry.retriesLeft--
	entry.attempt++
	entry.dueAt = time.Now().Add(delay)

	if e.metrics != nil {
		e.metrics.RecordRetry(entry.req.Method, entry.req.Endpoint(), entry.attempt)
	}
	if e.debug != nil && e.debug.Enabled && e.debug.LogRetries && e.logger != nil {
		e.logger.Info("Scheduling retry",
			"requestID", entry.requestID, "attempt", entry.attempt,
			"retriesLeft", entry.retriesLeft, "backoff", delay)
	}

	e.enqueue(entry)
}

// broadcastError runs the error broadcast; handler failures here are logged
// rather than compounding the original failure.
func (e *Engine) broadcastError(ctx context.Context, entry *queueEntry, resp *Response, engErr *EngineError) {
	ev := e.newEvent(EventError, entry, resp, engErr)
	if berr := e.bus.Broadcast(ctx, ev); berr != nil {
		if e.metrics != nil {
			e.metrics.RecordBroadcastHandlerError(EventError)
		}
		if e.logger != nil {
			e.logger.Error("Error broadcast handler failed", "requestID", entry.requestID, "error", berr)
		}
	}
}

func (e *Engine) newEvent(kind string, entry *queueEntry, resp *Response, err error) *Event {
	traceID := ""
	if entry.trace != nil {
		traceID = entry.trace.ID
	}
	return &Event{
		Type:       kind,
		Request:    entry.req,
		Response:   resp,
		Err:        err,
		ClassName:  entry.className,
		MethodName: entry.methodName,
		TraceID:    traceID,
	}
}

func (e *Engine) newError(entry *queueEntry, errType, message string, cause error, status int) *EngineError {
	traceID := ""
	if entry.trace != nil {
		traceID = entry.trace.ID
	}
	return &EngineError{
		Type:       errType,
		Message:    message,
		Cause:      cause,
		RequestID:  entry.requestID,
		TraceID:    traceID,
		Method:     entry.req.Method,
		URL:        entry.req.URL,
		Endpoint:   entry.req.Endpoint(),
		StatusCode: status,
		Attempt:    entry.attempt,
		MaxRetries: entry.maxRetries,
		Timestamp:  time.Now(),
	}
}

// cacheLookup decodes a stored response. A corrupt entry is deleted, logged
// and treated as a miss, never surfaced to the caller.
func (e *Engine) cacheLookup(key string, entry *queueEntry) (*Response, bool) {
	data, ok := e.cache.Get(key)
	if !ok {
		return nil, false
	}
	var stored storedResponse
	if err := json.Unmarshal(data, &stored); err != nil {
		if e.logger != nil {
			e.logger.Error("Corrupt cache entry, treating as miss", "cacheKey", key, "error", err)
		}
		e.cache.Delete(key)
		return nil, false
	}
	return &Response{
		StatusCode: stored.StatusCode,
		Header:     stored.Header,
		Body:       stored.Body,
		URL:        stored.URL,
		FromCache:  true,
	}, true
}

// doRequest performs the actual network call.
func (e *Engine) doRequest(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.fullURL(), body)
	if err != nil {
		return nil, err
	}
	for name, values := range r.Headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       respBody,
		URL:        r.fullURL(),
	}, nil
}

// runCallbacks invokes the request's response-side callbacks in order
// OnBytes, OnText, OnJSON. An unparsable body skips OnJSON with a log line.
func runCallbacks(req *Request, resp *Response, logger Logger) {
	if req.OnBytes != nil {
		req.OnBytes(resp.Body)
	}
	if req.OnText != nil {
		req.OnText(string(resp.Body))
	}
	if req.OnJSON != nil {
		var v interface{}
		if err := json.Unmarshal(resp.Body, &v); err != nil {
			if logger != nil {
				logger.Warn("OnJSON callback skipped, body is not JSON", "url", req.URL, "error", err)
			}
			return
		}
		req.OnJSON(v)
	}
}
