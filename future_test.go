package parksapi

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureResolve(t *testing.T) {
	f := newFuture()
	if f.Settled() {
		t.Error("fresh future should not be settled")
	}

	want := &Response{StatusCode: 200}
	go f.resolve(want)

	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got != want {
		t.Errorf("Wait() = %v, want the resolved response", got)
	}
	if !f.Settled() {
		t.Error("future should be settled after resolve")
	}
}

func TestFutureReject(t *testing.T) {
	f := newFuture()
	wantErr := errors.New("boom")
	f.reject(wantErr)

	_, err := f.Wait(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("Wait() error = %v, want %v", err, wantErr)
	}
}

func TestFutureSettlesOnce(t *testing.T) {
	f := newFuture()
	f.resolve(&Response{StatusCode: 200})
	// Later settles are ignored, not panics.
	f.reject(errors.New("too late"))
	f.resolve(&Response{StatusCode: 500})

	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want the first settle to win", got.StatusCode)
	}
}

func TestFutureWaitHonorsContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestFutureDoneChannel(t *testing.T) {
	f := newFuture()
	select {
	case <-f.Done():
		t.Fatal("Done() closed before settle")
	default:
	}

	f.resolve(&Response{})
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after settle")
	}
}
