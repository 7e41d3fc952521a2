package parksapi

import (
	"testing"
	"time"
)

func entryDueAt(due time.Time, url string) *queueEntry {
	return &queueEntry{
		req:    &Request{Method: "GET", URL: url},
		future: newFuture(),
		dueAt:  due,
	}
}

func TestRequestQueueOrdersByDueTime(t *testing.T) {
	q := newRequestQueue()
	now := time.Now()

	q.push(entryDueAt(now.Add(30*time.Millisecond), "http://c"))
	q.push(entryDueAt(now.Add(10*time.Millisecond), "http://a"))
	q.push(entryDueAt(now.Add(20*time.Millisecond), "http://b"))

	if q.len() != 3 {
		t.Fatalf("len() = %d, want 3", q.len())
	}

	var order []string
	for q.len() > 0 {
		e := q.popDue(now.Add(time.Minute))
		order = append(order, e.req.URL)
	}
	want := []string{"http://a", "http://b", "http://c"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("pop order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestRequestQueueSameDueTimeKeepsInsertionOrder(t *testing.T) {
	q := newRequestQueue()
	due := time.Now()

	q.push(entryDueAt(due, "http://first"))
	q.push(entryDueAt(due, "http://second"))

	if e := q.popDue(due); e.req.URL != "http://first" {
		t.Errorf("first pop = %s, want http://first", e.req.URL)
	}
	if e := q.popDue(due); e.req.URL != "http://second" {
		t.Errorf("second pop = %s, want http://second", e.req.URL)
	}
}

func TestRequestQueueHoldsFutureEntries(t *testing.T) {
	q := newRequestQueue()
	now := time.Now()

	q.push(entryDueAt(now.Add(time.Hour), "http://later"))

	if e := q.popDue(now); e != nil {
		t.Error("popDue() returned an entry before its due time")
	}
	due, ok := q.peekDue()
	if !ok {
		t.Fatal("peekDue() = not found, want head due time")
	}
	if !due.After(now) {
		t.Errorf("peekDue() = %v, want future time", due)
	}
	if q.len() != 1 {
		t.Errorf("len() = %d, want 1 (entry must stay queued)", q.len())
	}
}

func TestRequestQueueClear(t *testing.T) {
	q := newRequestQueue()
	now := time.Now()
	q.push(entryDueAt(now, "http://a"))
	q.push(entryDueAt(now, "http://b"))

	cleared := q.clear()
	if len(cleared) != 2 {
		t.Errorf("clear() = %d entries, want 2", len(cleared))
	}
	if q.len() != 0 {
		t.Errorf("len() after clear = %d, want 0", q.len())
	}
	if _, ok := q.peekDue(); ok {
		t.Error("peekDue() should report empty after clear")
	}
}

func TestQueueEntryEffectiveCacheKey(t *testing.T) {
	req := &Request{Method: "GET", URL: "http://example.com/a", ClassName: "parkAPI", MethodName: "getData"}

	derived := &queueEntry{req: req}
	if got := derived.effectiveCacheKey(); got != req.CacheKey() {
		t.Errorf("effectiveCacheKey() = %q, want derived key %q", got, req.CacheKey())
	}

	pinned := &queueEntry{req: req, cacheKey: "explicit"}
	if got := pinned.effectiveCacheKey(); got != "explicit" {
		t.Errorf("effectiveCacheKey() = %q, want explicit override", got)
	}
}

func TestQueueEntryTTLResolution(t *testing.T) {
	resp := &Response{StatusCode: 200, Header: map[string][]string{"Cache-Control": {"max-age=60"}}}

	fixed := &queueEntry{cacheTTL: time.Minute}
	if got := fixed.ttlFor(resp); got != time.Minute {
		t.Errorf("ttlFor() = %v, want fixed TTL", got)
	}

	derived := &queueEntry{
		cacheTTL: time.Minute,
		config: InterceptConfig{
			CacheTTLFunc: func(r *Response) time.Duration {
				if r.StatusCode == 200 {
					return time.Hour
				}
				return 0
			},
		},
	}
	if got := derived.ttlFor(resp); got != time.Hour {
		t.Errorf("ttlFor() = %v, want callback TTL", got)
	}
}
