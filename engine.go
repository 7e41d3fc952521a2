package parksapi

import (
	"net/http"
	"sync"
	"time"

	internalbackoff "github.com/ThemeParks/parksapi-sub000/internal/backoff"
)

// RetryCondition determines whether a failed attempt should be retried.
type RetryCondition func(resp *Response, err error) bool

// DefaultRetryCondition retries network errors and 5xx responses; 4xx
// responses are terminal.
func DefaultRetryCondition(resp *Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}

// Option represents a configuration option for the Engine.
type Option func(*Engine)

// Engine coordinates the request pipeline: the interceptor registry, the
// global queue and its single processor loop, the cache store, the
// injection/broadcast bus and the trace propagator. It is safe for
// concurrent use; all wrapped-method calls funnel through one queue.
type Engine struct {
	httpClient *http.Client
	timeout    time.Duration

	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   BackoffStrategy
	backoffCalc       *internalbackoff.Calculator
	retryPolicy       RetryPolicy
	retryCondition    RetryCondition
	retryBudget       *RetryBudget

	dispatchInterval time.Duration
	pollInterval     time.Duration

	queue    *requestQueue
	registry *interceptorRegistry
	cache    Cache
	bus      *Bus
	tracer   *Tracer

	sqlitePath    string
	sqliteEntries int

	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector

	traceHistorySize int
	validationError  error

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New constructs an Engine using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
// The processor loop does not run until Start is called.
func New(options ...Option) *Engine {
	e := &Engine{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:           30 * time.Second,
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		backoffCalc:       internalbackoff.GetSymmetricJitterCalculator(),
		retryCondition:    DefaultRetryCondition,
		dispatchInterval:  50 * time.Millisecond,
		pollInterval:      10 * time.Millisecond,
		queue:             newRequestQueue(),
		registry:          newInterceptorRegistry(),
		bus:               NewBus(),
		debug:             DefaultDebugConfig(),
		traceHistorySize:  200,
	}

	for _, option := range options {
		option(e)
	}

	// The SQLite store opens after all options apply so it picks up the
	// configured logger regardless of option order.
	if e.sqlitePath != "" {
		cache, err := NewSQLiteCache(e.sqlitePath, e.sqliteEntries, e.logger)
		if err != nil {
			e.validationError = &EngineError{
				Type:    ErrorTypeCache,
				Message: "failed to open sqlite cache",
				Cause:   err,
			}
		} else {
			e.cache = cache
		}
	}

	if e.tracer == nil {
		e.tracer = NewTracer(e.traceHistorySize)
	}
	if e.metrics != nil {
		e.tracer.Subscribe(func(ev *TraceEvent) {
			e.metrics.RecordTraceEvent(string(ev.Type))
		})
	}

	if err := e.ValidateConfiguration(); err != nil {
		e.validationError = err
	}

	return e
}

// Start launches the processor loop. Starting an already-running engine is
// a no-op.
func (e *Engine) Start() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go e.run(e.stop)
}

// Stop parks the processor loop. A dispatched entry always runs to
// resolution or rejection first; entries still queued stay queued and are
// picked up again after a subsequent Start.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.runMu.Unlock()
	e.wg.Wait()
}

// Running reports whether the processor loop is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// Bus returns the injection/broadcast bus.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Tracer returns the trace-context propagator.
func (e *Engine) Tracer() *Tracer {
	return e.tracer
}

// Cache returns the configured cache store, or nil when caching is disabled.
func (e *Engine) Cache() Cache {
	return e.cache
}

// QueueDepth returns the number of pending queue entries.
func (e *Engine) QueueDepth() int {
	return e.queue.len()
}

// ClearQueue drops all pending entries, rejecting their futures with
// ErrEngineStopped. Tests rely on this for deterministic isolation.
func (e *Engine) ClearQueue() {
	for _, entry := range e.queue.clear() {
		entry.future.reject(ErrEngineStopped)
	}
	if e.metrics != nil {
		e.metrics.RecordQueueDepth(0)
	}
}

// Reset clears the queue, the interceptor registry, the bus registrations
// and the cache, returning the engine to a pristine state.
func (e *Engine) Reset() {
	e.ClearQueue()
	e.registry.clear()
	e.bus.Clear()
	if e.cache != nil {
		e.cache.Clear()
	}
}

func (e *Engine) enqueue(entry *queueEntry) {
	e.queue.push(entry)
	if e.metrics != nil {
		e.metrics.RecordQueueDepth(e.queue.len())
	}
	if e.debug != nil && e.debug.Enabled && e.debug.LogRequests && e.logger != nil {
		e.logger.Debug("Request queued",
			"requestID", entry.requestID,
			"method", entry.req.Method,
			"url", entry.req.URL,
			"dueAt", entry.dueAt,
			"retries", entry.retriesLeft)
	}
}

// IsValid reports whether configuration validation passed at construction.
func (e *Engine) IsValid() bool {
	return e.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (e *Engine) ValidationError() error {
	return e.validationError
}
