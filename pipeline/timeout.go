package pipeline

import (
	"context"
	"time"
)

// TimeoutFactory creates policies that bound the rest of the chain with a
// deadline.
//
// The deadline covers reading the response body too: it is released when
// the body is closed, so always Close the response (Bytes and String do).
// Placed outside RetryFactory it bounds the whole call; inside, each attempt.
type TimeoutFactory struct {
	Timeout time.Duration
}

// Create implements Factory.
func (f TimeoutFactory) Create(next Policy, _ *Options) Policy {
	if f.Timeout <= 0 {
		return next
	}
	timeout := f.Timeout

	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)

		resp, err := next.Send(ctx, req)
		if err != nil || resp == nil {
			cancel()
			return resp, err
		}

		resp.onClose(cancel)
		return resp, nil
	})
}
