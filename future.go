package parksapi

import (
	"context"
	"sync"
)

// Future is the deferred result handed back by a wrapped method call. The
// processor loop settles it exactly once when the queued request resolves
// or rejects.
type Future struct {
	mu      sync.Mutex
	done    chan struct{}
	resp    *Response
	err     error
	settled bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the request completes or the context cancels.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done returns a channel closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has resolved or rejected.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

func (f *Future) resolve(resp *Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return
	}
	f.resp = resp
	f.settled = true
	close(f.done)
}

func (f *Future) reject(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return
	}
	f.err = err
	f.settled = true
	close(f.done)
}
