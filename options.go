package parksapi

import (
	"fmt"
	"net/http"
	"time"
)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = client
		if e.timeout != 0 {
			e.httpClient.Timeout = e.timeout
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
		if e.httpClient != nil {
			e.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries sets the default maximum number of retry attempts; wrapped
// methods can override it per interception.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// WithInitialBackoff sets the initial backoff duration
func WithInitialBackoff(d time.Duration) Option {
	return func(e *Engine) {
		e.initialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration
func WithMaxBackoff(d time.Duration) Option {
	return func(e *Engine) {
		e.maxBackoff = d
	}
}

// WithBackoffMultiplier sets the backoff multiplier
func WithBackoffMultiplier(f float64) Option {
	return func(e *Engine) {
		e.backoffMultiplier = f
	}
}

// WithJitter sets the jitter factor for backoff (0.0 to 1.0)
func WithJitter(f float64) Option {
	return func(e *Engine) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		e.jitter = f
	}
}

// WithBackoffStrategy selects the jitter algorithm used for retry delays.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(e *Engine) {
		e.backoffStrategy = strategy
		e.backoffCalc = calculatorFor(strategy)
	}
}

// WithRetryPolicy installs a custom retry policy, replacing the built-in
// retry condition and backoff calculation.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) {
		e.retryPolicy = policy
	}
}

// WithRetryCondition sets a custom retry condition
func WithRetryCondition(fn RetryCondition) Option {
	return func(e *Engine) {
		e.retryCondition = fn
	}
}

// WithRetryBudget caps the total retries per window across all requests
func WithRetryBudget(maxRetries int, perWindow time.Duration) Option {
	return func(e *Engine) {
		e.retryBudget = NewRetryBudget(maxRetries, perWindow)
	}
}

// WithCache sets a custom cache implementation
func WithCache(cache Cache) Option {
	return func(e *Engine) {
		e.sqlitePath = ""
		e.cache = cache
	}
}

// WithMemoryCache enables response caching with the in-memory store
func WithMemoryCache(maxEntries int) Option {
	return func(e *Engine) {
		e.sqlitePath = ""
		e.cache = NewMemoryCache(maxEntries)
	}
}

// WithSQLiteCache enables response caching backed by a SQLite database so
// cached responses survive restarts. The store is opened during New, after
// all options have applied.
func WithSQLiteCache(path string, maxEntries int) Option {
	return func(e *Engine) {
		e.cache = nil
		e.sqlitePath = path
		e.sqliteEntries = maxEntries
	}
}

// WithRateLimiter sets the rate limiter
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(e *Engine) {
		e.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithCircuitBreaker sets the circuit breaker configuration
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(e *Engine) {
		e.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithDispatchInterval sets the fixed delay between dispatched entries
func WithDispatchInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.dispatchInterval = d
	}
}

// WithPollInterval sets how often the processor checks for due entries
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// WithLogger sets a custom logger for debug output
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger
func WithSimpleLogger() Option {
	return func(e *Engine) {
		if e.debug == nil {
			e.debug = DefaultDebugConfig()
		}
		e.debug.Enabled = true
		e.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(e *Engine) {
		if e.debug == nil {
			e.debug = DefaultDebugConfig()
		}
		e.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(e *Engine) {
		e.debug = config
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if e.debug == nil {
			e.debug = DefaultDebugConfig()
		}
		e.debug.RequestIDGen = gen
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(e *Engine) {
		e.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithTraceHistorySize sets how many completed traces the tracer retains
func WithTraceHistorySize(n int) Option {
	return func(e *Engine) {
		e.traceHistorySize = n
	}
}

// WithTracer sets a custom tracer, overriding the history size option
func WithTracer(tracer *Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// ValidateConfiguration validates the engine configuration and returns an error if invalid
func (e *Engine) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, e.validateRetryConfig()...)
	errors = append(errors, e.validateQueueConfig()...)
	errors = append(errors, e.validateRateLimiterConfig()...)
	errors = append(errors, e.validateCircuitBreakerConfig()...)
	errors = append(errors, e.validateDebugConfig()...)
	errors = append(errors, e.validateHTTPClientConfig()...)
	errors = append(errors, e.validateExtremeValues()...)

	if len(errors) > 0 {
		return &EngineError{
			Type:    ErrorTypeConfiguration,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

// validateRetryConfig validates retry-related configuration
func (e *Engine) validateRetryConfig() []string {
	var errors []string

	if e.maxRetries < 0 {
		errors = append(errors, "maxRetries must be non-negative")
	}

	if e.initialBackoff <= 0 {
		errors = append(errors, "initialBackoff must be positive")
	}

	if e.maxBackoff < e.initialBackoff {
		errors = append(errors, "maxBackoff must be greater than or equal to initialBackoff")
	}

	if e.backoffMultiplier <= 0 {
		errors = append(errors, "backoffMultiplier must be positive")
	}

	// Jitter is clamped to [0,1] in WithJitter; this catches values set
	// directly on the struct.
	if e.jitter < 0 || e.jitter > 1 {
		errors = append(errors, "jitter must be between 0 and 1 (will be clamped automatically)")
	}

	if e.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}

	return errors
}

// validateQueueConfig validates processor loop configuration
func (e *Engine) validateQueueConfig() []string {
	var errors []string

	if e.dispatchInterval < 0 {
		errors = append(errors, "dispatchInterval must be non-negative")
	}

	if e.pollInterval <= 0 {
		errors = append(errors, "pollInterval must be positive")
	}

	return errors
}

// validateRateLimiterConfig validates rate limiter configuration
func (e *Engine) validateRateLimiterConfig() []string {
	var errors []string

	if e.rateLimiter != nil {
		if e.rateLimiter.maxTokens <= 0 {
			errors = append(errors, "rateLimiter maxTokens must be positive")
		}
		if e.rateLimiter.refillRate <= 0 {
			errors = append(errors, "rateLimiter refillRate must be positive")
		}
	}

	return errors
}

// validateCircuitBreakerConfig validates circuit breaker configuration
func (e *Engine) validateCircuitBreakerConfig() []string {
	var errors []string

	if e.circuitBreaker != nil {
		if e.circuitBreaker.config.FailureThreshold <= 0 {
			errors = append(errors, "circuitBreaker FailureThreshold must be positive")
		}
		if e.circuitBreaker.config.RecoveryTimeout <= 0 {
			errors = append(errors, "circuitBreaker RecoveryTimeout must be positive")
		}
		if e.circuitBreaker.config.SuccessThreshold <= 0 {
			errors = append(errors, "circuitBreaker SuccessThreshold must be positive")
		}
	}

	return errors
}

// validateDebugConfig validates debug configuration
func (e *Engine) validateDebugConfig() []string {
	var errors []string

	if e.debug != nil && e.debug.Enabled {
		if e.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
		if e.logger == nil {
			errors = append(errors, "logger must be set when debug is enabled")
		}
	}

	return errors
}

// validateHTTPClientConfig validates HTTP client configuration
func (e *Engine) validateHTTPClientConfig() []string {
	var errors []string

	if e.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}

	return errors
}

// validateExtremeValues validates that configuration values are within reasonable bounds
func (e *Engine) validateExtremeValues() []string {
	var errors []string

	if e.maxRetries > 100 {
		errors = append(errors, "maxRetries > 100 may cause excessive resource usage")
	}

	if e.initialBackoff > 10*time.Minute {
		errors = append(errors, "initialBackoff > 10m may cause very long delays")
	}
	if e.maxBackoff > 1*time.Hour {
		errors = append(errors, "maxBackoff > 1h may cause extremely long delays")
	}

	if e.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}

	if e.dispatchInterval > time.Minute {
		errors = append(errors, "dispatchInterval > 1m may starve the queue")
	}

	if e.rateLimiter != nil {
		if e.rateLimiter.maxTokens > 1000000 {
			errors = append(errors, "rateLimiter maxTokens > 1M may cause memory issues")
		}
		if e.rateLimiter.refillRate < time.Millisecond {
			errors = append(errors, "rateLimiter refillRate < 1ms may cause excessive CPU usage")
		}
	}

	return errors
}
