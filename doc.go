// Package parksapi provides the request-processing core used by destination
// data sources: a queued, cached, retried HTTP pipeline with cross-cutting
// interception and causal tracing.
//
//   - Global request queue with a single processor loop, ordered by earliest
//     eligible execution time, with a fixed inter-dispatch throttle
//   - Retries with exponential backoff + symmetric jitter, Retry-After aware
//   - Pluggable cache store (bounded in-memory LRU or embedded SQLite) with
//     per-entry TTL, lazy expiry and a background sweep
//   - Injection/broadcast bus: declarative filters with priority groups for
//     request/response/error interception (auth headers, proxying, rewrites)
//   - Trace-context propagation that survives the queue boundary, so retried
//     attempts and injection-triggered requests share one correlation id
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - One queue entry and one Future per logical call, no hidden magic
//   - Safe concurrent use of a single *Engine instance
//   - Extensibility via bus handlers & pluggable cache / metrics
//
// Typical usage:
//
//	engine := parksapi.New(
//	    parksapi.WithMaxRetries(3),
//	    parksapi.WithMemoryCache(10000),
//	    parksapi.WithDispatchInterval(50*time.Millisecond),
//	)
//	engine.Start()
//	defer engine.Stop()
//
//	getData, _ := engine.Intercept(dest, "GetData", producer, parksapi.InterceptConfig{
//	    CacheTTL: time.Minute,
//	})
//	future, _ := getData(ctx)
//	resp, err := future.Wait(ctx)
//
// Collaborators observe or rewrite traffic by registering bus handlers with
// declarative filters; see Engine.Bus and the Filter implementations.
package parksapi
