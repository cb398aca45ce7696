package pipeline

import (
	"context"
	"sync"
)

// Future is the pending result of Pipeline.SendAsync or Go.
type Future struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	resp *Response
	err  error
}

func newFuture(cancel context.CancelFunc) *Future {
	return &Future{
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (f *Future) complete(resp *Response, err error) {
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
	})
}

// Done is closed once the call has completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the call completes or ctx is done. ctx only bounds the
// wait; use Cancel to abort the call itself.
func (f *Future) Await(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel aborts the call. The eventual result carries an error satisfying
// errors.Is(err, context.Canceled) unless the call had already completed.
func (f *Future) Cancel() {
	f.cancel()
}
