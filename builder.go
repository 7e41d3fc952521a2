package parksapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Producer is the collaborator-supplied method being wrapped: given its
// owning instance and call arguments, it returns a request description.
type Producer func(owner interface{}, args ...interface{}) (*Request, error)

// Wrapped is the callable returned by Intercept. One call pushes exactly
// one queue entry and returns exactly one Future; there is no in-flight
// deduplication of racing first-time calls sharing a cache key.
type Wrapped func(ctx context.Context, args ...interface{}) (*Future, error)

// Parameter documents one argument of a wrapped method. The registry keeps
// this metadata queryable for external harnesses.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Example     string
}

// InterceptConfig configures how a wrapped method's requests are queued,
// cached, retried and validated.
type InterceptConfig struct {
	// Retries overrides the engine retry budget for this method: 0 uses
	// the engine default, negative disables retries.
	Retries int
	// RetriesFunc derives the retry budget from the call arguments. Takes
	// precedence over Retries.
	RetriesFunc func(args []interface{}) int

	// CacheKey pins an explicit cache key. CacheKeyFunc derives one with
	// instance context and takes precedence. When neither is set, the key
	// is hashed from owning identity, method, URL, headers and body.
	CacheKey     string
	CacheKeyFunc func(owner interface{}, args []interface{}) string

	// Delay postpones the earliest eligible execution of each call.
	Delay time.Duration

	// CacheTTL fixes how long successful response bodies stay cached;
	// zero disables caching unless CacheTTLFunc is set. CacheTTLFunc
	// derives the TTL from the response (return 0 to skip caching).
	CacheTTL     time.Duration
	CacheTTLFunc func(resp *Response) time.Duration

	// Parameters documents the wrapped method's arguments.
	Parameters []Parameter

	// ResponseSchema declares a JSON Schema the response body must satisfy.
	// Violations are terminal: the caller's future rejects, no retry.
	ResponseSchema json.RawMessage
}

// Interceptor is one registered wrapped method. The registry is keyed by
// (owning type, method name).
type Interceptor struct {
	ClassName  string
	MethodName string
	Config     InterceptConfig

	owner   interface{}
	produce Producer
	schema  *jsonschema.Schema
	engine  *Engine
}

// interceptorRegistry is the process-wide registry of wrapped methods.
type interceptorRegistry struct {
	mu           sync.RWMutex
	interceptors map[string]*Interceptor
}

func newInterceptorRegistry() *interceptorRegistry {
	return &interceptorRegistry{interceptors: make(map[string]*Interceptor)}
}

func registryKey(className, methodName string) string {
	return className + "." + methodName
}

func (r *interceptorRegistry) add(i *Interceptor) {
	r.mu.Lock()
	r.interceptors[registryKey(i.ClassName, i.MethodName)] = i
	r.mu.Unlock()
}

func (r *interceptorRegistry) lookup(className, methodName string) (*Interceptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.interceptors[registryKey(className, methodName)]
	return i, ok
}

func (r *interceptorRegistry) clear() {
	r.mu.Lock()
	r.interceptors = make(map[string]*Interceptor)
	r.mu.Unlock()
}

// Intercept wraps a request-producing method. The owning instance is also
// registered into the bus's instance set so its handlers join process-wide
// broadcasts. The response schema, if declared, is compiled once here.
func (e *Engine) Intercept(owner interface{}, methodName string, produce Producer, config InterceptConfig) (Wrapped, error) {
	if produce == nil {
		return nil, &EngineError{
			Type:      ErrorTypeConfiguration,
			Message:   "producer must not be nil",
			Timestamp: time.Now(),
		}
	}

	interceptor := &Interceptor{
		ClassName:  typeNameOf(owner),
		MethodName: methodName,
		Config:     config,
		owner:      owner,
		produce:    produce,
		engine:     e,
	}

	if len(config.ResponseSchema) > 0 {
		schema, err := compileSchema(config.ResponseSchema)
		if err != nil {
			return nil, &EngineError{
				Type:      ErrorTypeConfiguration,
				Message:   fmt.Sprintf("interceptor %s.%s: %v", interceptor.ClassName, methodName, err),
				Cause:     err,
				Timestamp: time.Now(),
			}
		}
		interceptor.schema = schema
	}

	e.registry.add(interceptor)
	if owner != nil {
		e.bus.RegisterInstance(owner)
	}

	return interceptor.call, nil
}

// Interceptor looks up a registered wrapped method by owning type and
// method name.
func (e *Engine) Interceptor(className, methodName string) (*Interceptor, bool) {
	return e.registry.lookup(className, methodName)
}

// call is the wrapped entry point: produce the request, derive scheduling
// and cache settings, capture the active trace context, enqueue, return the
// future.
func (i *Interceptor) call(ctx context.Context, args ...interface{}) (*Future, error) {
	e := i.engine

	req, err := i.produce(i.owner, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", i.ClassName, i.MethodName, err)
	}
	if err := req.Validate(); err != nil {
		return nil, &EngineError{
			Type:      ErrorTypeMalformed,
			Message:   fmt.Sprintf("%s.%s returned an incomplete request", i.ClassName, i.MethodName),
			Cause:     err,
			Timestamp: time.Now(),
		}
	}
	req.ClassName = i.ClassName
	req.MethodName = i.MethodName
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}

	retries := i.Config.Retries
	if i.Config.RetriesFunc != nil {
		retries = i.Config.RetriesFunc(args)
	}
	if retries == 0 {
		retries = e.maxRetries
	}
	if retries < 0 {
		retries = 0
	}

	cacheKey := i.Config.CacheKey
	if i.Config.CacheKeyFunc != nil {
		cacheKey = i.Config.CacheKeyFunc(i.owner, args)
	}

	var requestID string
	if e.debug != nil && e.debug.RequestIDGen != nil {
		requestID = e.debug.RequestIDGen()
	}

	entry := &queueEntry{
		req:         req,
		future:      newFuture(),
		owner:       i.owner,
		className:   i.ClassName,
		methodName:  i.MethodName,
		args:        args,
		argsJSON:    marshalArgs(args),
		config:      i.Config,
		schema:      i.schema,
		cacheKey:    cacheKey,
		cacheTTL:    i.Config.CacheTTL,
		requestID:   requestID,
		retriesLeft: retries,
		maxRetries:  retries,
		enqueuedAt:  time.Now(),
		dueAt:       time.Now().Add(i.Config.Delay),
	}
	if tc, ok := FromContext(ctx); ok {
		entry.trace = tc
	}

	e.enqueue(entry)
	return entry.future, nil
}

// marshalArgs serializes call arguments for registry lookups and debugging.
// Unmarshalable arguments degrade to their string form.
func marshalArgs(args []interface{}) string {
	if len(args) == 0 {
		return "[]"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
