package parksapi

import (
	"sync"
	"time"
)

// TraceRecord is one completed trace retained in history.
type TraceRecord struct {
	ID       string
	Start    time.Time
	End      time.Time
	Metadata map[string]string
	Events   []*TraceEvent
}

// traceHistory retains completed traces up to a configured maximum,
// evicting oldest first.
type traceHistory struct {
	mu      sync.RWMutex
	max     int
	order   []string
	records map[string]*TraceRecord
}

func newTraceHistory(max int) *traceHistory {
	if max <= 0 {
		max = 100
	}
	return &traceHistory{
		max:     max,
		records: make(map[string]*TraceRecord),
	}
}

func (h *traceHistory) add(rec *TraceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.records[rec.ID]; !exists {
		h.order = append(h.order, rec.ID)
	}
	h.records[rec.ID] = rec

	for len(h.order) > h.max {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.records, oldest)
	}
}

func (h *traceHistory) byID(id string) (*TraceRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[id]
	return rec, ok
}

func (h *traceHistory) byTimeRange(from, to time.Time) []*TraceRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*TraceRecord
	for _, id := range h.order {
		rec := h.records[id]
		if rec.Start.Before(from) || rec.Start.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (h *traceHistory) byMetadata(key, value string) []*TraceRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*TraceRecord
	for _, id := range h.order {
		rec := h.records[id]
		if rec.Metadata != nil && rec.Metadata[key] == value {
			out = append(out, rec)
		}
	}
	return out
}

func (h *traceHistory) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

func (h *traceHistory) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.order = nil
	h.records = make(map[string]*TraceRecord)
}

// TraceHistory is the query surface over completed traces.
type TraceHistory struct {
	inner *traceHistory
}

// ByID returns the completed trace with the given id.
func (th *TraceHistory) ByID(id string) (*TraceRecord, bool) {
	return th.inner.byID(id)
}

// ByTimeRange returns completed traces whose start falls within [from, to],
// oldest first.
func (th *TraceHistory) ByTimeRange(from, to time.Time) []*TraceRecord {
	return th.inner.byTimeRange(from, to)
}

// ByMetadata returns completed traces whose metadata contains the exact
// key/value pair, oldest first.
func (th *TraceHistory) ByMetadata(key, value string) []*TraceRecord {
	return th.inner.byMetadata(key, value)
}

// Len returns the number of retained traces.
func (th *TraceHistory) Len() int {
	return th.inner.len()
}

// Clear drops all retained traces. Tests rely on this for isolation.
func (th *TraceHistory) Clear() {
	th.inner.clear()
}
