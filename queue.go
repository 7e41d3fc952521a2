package parksapi

import (
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// queueEntry wraps a pending request with its scheduling, retry and trace
// metadata. An entry leaves the queue exactly once per dispatch: the
// processor either settles its future or re-pushes it with a new due time,
// never both.
type queueEntry struct {
	req    *Request
	future *Future

	// Trace context snapshot taken at enqueue time. The queue boundary
	// breaks call-stack propagation, so correlation travels as data.
	trace *TraceContext

	owner      interface{}
	className  string
	methodName string
	args       []interface{}
	argsJSON   string

	config    InterceptConfig
	schema    *jsonschema.Schema
	cacheKey  string // explicit override; empty means derive from the request
	cacheTTL  time.Duration
	requestID string

	retriesLeft int
	maxRetries  int
	attempt     int
	dueAt       time.Time
	enqueuedAt  time.Time
}

// ttlFor resolves the cache TTL for a response, preferring the per-call
// derivation callback over the fixed TTL.
func (e *queueEntry) ttlFor(resp *Response) time.Duration {
	if e.config.CacheTTLFunc != nil {
		return e.config.CacheTTLFunc(resp)
	}
	return e.cacheTTL
}

// effectiveCacheKey returns the override key if configured, otherwise the
// key derived from the (possibly rewritten) request.
func (e *queueEntry) effectiveCacheKey() string {
	if e.cacheKey != "" {
		return e.cacheKey
	}
	return e.req.CacheKey()
}

// requestQueue is the global request queue: entries sorted ascending by
// earliest-eligible execution time. Dispatch order follows due time, not
// insertion order.
type requestQueue struct {
	mu      sync.Mutex
	entries []*queueEntry
}

func newRequestQueue() *requestQueue {
	return &requestQueue{}
}

// push inserts the entry keeping the due-time ordering. Entries sharing a
// due time keep insertion order.
func (q *requestQueue) push(e *queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].dueAt.After(e.dueAt)
	})
	q.entries = append(q.entries, nil)
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = e
}

// popDue removes and returns the head entry if it is due at now.
func (q *requestQueue) popDue(now time.Time) *queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	head := q.entries[0]
	if head.dueAt.After(now) {
		return nil
	}
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return head
}

// peekDue returns the head's due time, or false when empty.
func (q *requestQueue) peekDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	return q.entries[0].dueAt, true
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// clear removes all pending entries and returns them so the engine can
// reject their futures. Tests rely on this for deterministic isolation.
func (q *requestQueue) clear() []*queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries
	q.entries = nil
	return entries
}
