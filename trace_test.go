package parksapi

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestTracerTraceCollectsEvents(t *testing.T) {
	tracer := NewTracer(10)

	result, err := tracer.Trace(context.Background(), map[string]string{"op": "test"},
		func(ctx context.Context) (interface{}, error) {
			tracer.Emit(ctx, &TraceEvent{Type: TraceEventStart, URL: "http://a"})
			tracer.Emit(ctx, &TraceEvent{Type: TraceEventComplete, URL: "http://a", Status: 200})
			return "done", nil
		})
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}
	if result.Result != "done" {
		t.Errorf("Result = %v, want done", result.Result)
	}
	if result.TraceID == "" {
		t.Error("TraceID should be assigned")
	}
	if len(result.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(result.Events))
	}
	for _, ev := range result.Events {
		if ev.TraceID != result.TraceID {
			t.Errorf("event TraceID = %q, want %q", ev.TraceID, result.TraceID)
		}
		if ev.Timestamp.IsZero() {
			t.Error("event Timestamp should be stamped on emit")
		}
	}
}

func TestTracerWithContextRestoresCorrelation(t *testing.T) {
	tracer := NewTracer(10)

	var captured *TraceContext
	_, err := tracer.Trace(context.Background(), nil, func(ctx context.Context) (interface{}, error) {
		tc, ok := FromContext(ctx)
		if !ok {
			t.Fatal("trace context missing inside Trace")
		}
		captured = tc

		// Simulate a detached continuation: fresh context, restored trace.
		detached := tracer.WithContext(context.Background(), tc)
		tracer.Emit(detached, &TraceEvent{Type: TraceEventStart})
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}

	events := captured.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 from detached continuation", len(events))
	}
	if events[0].TraceID != captured.ID {
		t.Errorf("detached event TraceID = %q, want %q", events[0].TraceID, captured.ID)
	}
}

func TestTracerSubscribe(t *testing.T) {
	tracer := NewTracer(10)

	var got []*TraceEvent
	unsubscribe := tracer.Subscribe(func(ev *TraceEvent) {
		got = append(got, ev)
	})

	tracer.Emit(context.Background(), &TraceEvent{Type: TraceEventStart})
	if len(got) != 1 {
		t.Fatalf("subscriber received %d events, want 1", len(got))
	}

	unsubscribe()
	tracer.Emit(context.Background(), &TraceEvent{Type: TraceEventStart})
	if len(got) != 1 {
		t.Errorf("subscriber received %d events after unsubscribe, want 1", len(got))
	}
}

func TestTraceHistoryEvictsOldest(t *testing.T) {
	tracer := NewTracer(3)

	var ids []string
	for i := 0; i < 5; i++ {
		result, err := tracer.Trace(context.Background(), nil,
			func(ctx context.Context) (interface{}, error) { return nil, nil })
		if err != nil {
			t.Fatalf("Trace() error = %v", err)
		}
		ids = append(ids, result.TraceID)
	}

	history := tracer.History()
	if history.Len() != 3 {
		t.Fatalf("history len = %d, want 3", history.Len())
	}
	for _, id := range ids[:2] {
		if _, ok := history.ByID(id); ok {
			t.Errorf("trace %q should have been evicted", id)
		}
	}
	for _, id := range ids[2:] {
		if _, ok := history.ByID(id); !ok {
			t.Errorf("trace %q should be retained", id)
		}
	}
}

func TestTraceHistoryQueries(t *testing.T) {
	tracer := NewTracer(10)

	before := time.Now()
	for i := 0; i < 3; i++ {
		_, err := tracer.Trace(context.Background(), map[string]string{"park": fmt.Sprintf("park-%d", i)},
			func(ctx context.Context) (interface{}, error) { return nil, nil })
		if err != nil {
			t.Fatalf("Trace() error = %v", err)
		}
	}
	after := time.Now()

	history := tracer.History()

	inRange := history.ByTimeRange(before, after)
	if len(inRange) != 3 {
		t.Errorf("ByTimeRange = %d records, want 3", len(inRange))
	}
	if got := history.ByTimeRange(after.Add(time.Hour), after.Add(2*time.Hour)); len(got) != 0 {
		t.Errorf("ByTimeRange outside window = %d records, want 0", len(got))
	}

	byMeta := history.ByMetadata("park", "park-1")
	if len(byMeta) != 1 {
		t.Fatalf("ByMetadata = %d records, want 1", len(byMeta))
	}
	if byMeta[0].Metadata["park"] != "park-1" {
		t.Errorf("ByMetadata returned wrong record: %v", byMeta[0].Metadata)
	}

	history.Clear()
	if history.Len() != 0 {
		t.Errorf("history len after Clear = %d, want 0", history.Len())
	}
}

func TestEmitOutsideTraceStillFansOut(t *testing.T) {
	tracer := NewTracer(10)

	var count int
	tracer.Subscribe(func(ev *TraceEvent) { count++ })

	tracer.Emit(context.Background(), &TraceEvent{Type: TraceEventError})
	if count != 1 {
		t.Errorf("subscriber count = %d, want 1 for untraced emit", count)
	}
	if tracer.History().Len() != 0 {
		t.Error("untraced emit should not create history records")
	}
}
