package parksapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TraceEventType discriminates trace events.
type TraceEventType string

const (
	TraceEventStart    TraceEventType = "start"
	TraceEventComplete TraceEventType = "complete"
	TraceEventError    TraceEventType = "error"
)

// TraceEvent is one observation made under a trace context. Headers and Body
// carry the observed response detail on failure events; they stay empty on
// start and complete events to keep the history lean.
type TraceEvent struct {
	TraceID    string
	Type       TraceEventType
	Timestamp  time.Time
	URL        string
	Method     string
	Status     int
	Duration   time.Duration
	Error      string
	Headers    http.Header
	Body       string
	CacheHit   bool
	RetryCount int
	ClassName  string
	MethodName string
}

// TraceContext correlates every event of one logical operation. It is
// carried explicitly as data across the queue boundary: ordinary call-stack
// propagation does not survive the deferred-dispatch hop, so queue entries
// snapshot the context at enqueue time and the processor restores it before
// every downstream step.
type TraceContext struct {
	ID       string
	Start    time.Time
	Metadata map[string]string

	mu     sync.Mutex
	events []*TraceEvent
}

func newTraceContext(metadata map[string]string) *TraceContext {
	return &TraceContext{
		ID:       uuid.NewString(),
		Start:    time.Now(),
		Metadata: metadata,
	}
}

func (tc *TraceContext) append(ev *TraceEvent) {
	tc.mu.Lock()
	tc.events = append(tc.events, ev)
	tc.mu.Unlock()
}

// Events returns a snapshot of the buffered events.
func (tc *TraceContext) Events() []*TraceEvent {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]*TraceEvent, len(tc.events))
	copy(out, tc.events)
	return out
}

type traceContextKey struct{}

// FromContext returns the trace context active on ctx, if any.
func FromContext(ctx context.Context) (*TraceContext, bool) {
	tc, ok := ctx.Value(traceContextKey{}).(*TraceContext)
	return tc, ok
}

// TraceResult aggregates the outcome of one traced operation.
type TraceResult struct {
	Result   interface{}
	TraceID  string
	Duration time.Duration
	Events   []*TraceEvent
}

// Tracer assigns correlation ids to logical operations, buffers their
// events, fans events out to live subscribers and archives completed traces
// into a bounded history.
type Tracer struct {
	mu          sync.RWMutex
	subscribers map[int]func(*TraceEvent)
	nextSub     int
	history     *traceHistory
	logger      Logger
}

// NewTracer creates a tracer with a bounded completed-trace history.
func NewTracer(historySize int) *Tracer {
	return &Tracer{
		subscribers: make(map[int]func(*TraceEvent)),
		history:     newTraceHistory(historySize),
	}
}

// WithContext re-establishes a previously captured trace context on ctx.
// Detached continuations (queued dispatch, retries, broadcast side effects)
// use this so their events still correlate to the original operation.
func (t *Tracer) WithContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc == nil {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// Trace starts a new context, runs fn under it, and returns the aggregated
// result once fn completes. Every event emitted under the context — from fn
// itself or from re-queued continuations restoring it — is collected. The
// completed trace is archived into history.
func (t *Tracer) Trace(ctx context.Context, metadata map[string]string, fn func(ctx context.Context) (interface{}, error)) (*TraceResult, error) {
	tc := newTraceContext(metadata)
	result, err := fn(t.WithContext(ctx, tc))
	duration := time.Since(tc.Start)

	events := tc.Events()
	t.history.add(&TraceRecord{
		ID:       tc.ID,
		Start:    tc.Start,
		End:      tc.Start.Add(duration),
		Metadata: tc.Metadata,
		Events:   events,
	})

	return &TraceResult{
		Result:   result,
		TraceID:  tc.ID,
		Duration: duration,
		Events:   events,
	}, err
}

// Emit appends an event to the trace context active on ctx (if any) and
// fans it out to subscribers. Events emitted outside any trace are still
// delivered to subscribers.
func (t *Tracer) Emit(ctx context.Context, ev *TraceEvent) {
	if tc, ok := FromContext(ctx); ok {
		t.EmitTo(tc, ev)
		return
	}
	t.fanOut(ev)
}

// EmitTo appends an event to an explicitly supplied context. The re-queue
// path uses this form when no context.Context is in scope.
func (t *Tracer) EmitTo(tc *TraceContext, ev *TraceEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if tc != nil {
		ev.TraceID = tc.ID
		tc.append(ev)
	}
	t.fanOut(ev)
}

// Subscribe registers a live listener for every emitted event. The returned
// function removes the subscription.
func (t *Tracer) Subscribe(fn func(*TraceEvent)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subscribers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}
}

func (t *Tracer) fanOut(ev *TraceEvent) {
	t.mu.RLock()
	subs := make([]func(*TraceEvent), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		subs = append(subs, fn)
	}
	t.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// History returns the bounded completed-trace store.
func (t *Tracer) History() *TraceHistory {
	return &TraceHistory{inner: t.history}
}
