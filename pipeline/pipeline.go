package pipeline

import (
	"context"
	"errors"
)

// Transport performs the network exchange at the end of a chain.
//
// Implementations must honor ctx cancellation. HTTPTransport adapts net/http;
// MockTransport serves stubs in tests.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Build composes factories into a chain that ends with transport.
//
// Factories are applied in reverse so the first factory becomes the
// outermost policy: [A, B, C] runs A, B, C, then the transport on the way
// out, and C, B, A on the way back. Build has no side effects beyond the
// factories' Create calls; a nil opts is replaced with NewOptions().
func Build(transport Transport, factories []Factory, opts *Options) Policy {
	if opts == nil {
		opts = NewOptions()
	}

	var head Policy = &terminalPolicy{transport: transport}
	for i := len(factories) - 1; i >= 0; i-- {
		if factories[i] == nil {
			continue
		}
		head = factories[i].Create(head, opts)
	}
	return head
}

// Pipeline is a built chain together with the options it was built with.
// A Pipeline is safe for concurrent use.
type Pipeline struct {
	head Policy
	opts *Options
}

// New builds a pipeline.
//
// Example:
//
//	p := pipeline.New(
//	    pipeline.NewHTTPTransport(pipeline.DefaultTransportConfig()),
//	    []pipeline.Factory{
//	        pipeline.UserAgentFactory{UserAgent: "blob-client/1.0"},
//	        pipeline.RetryFactory{Config: pipeline.DefaultRetryConfig()},
//	        pipeline.NewPortFactory(8443),
//	    },
//	    pipeline.WithServiceName("blob-client"),
//	)
//	resp, err := p.Send(ctx, pipeline.NewRequest(http.MethodGet, "https://example.com/c1"))
func New(transport Transport, factories []Factory, opts ...Option) *Pipeline {
	o := NewOptions(opts...)
	return &Pipeline{
		head: Build(transport, factories, o),
		opts: o,
	}
}

// Options returns the options the pipeline was built with.
func (p *Pipeline) Options() *Options {
	return p.opts
}

// Send runs req through the chain and returns the response or the first error.
func (p *Pipeline) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return p.head.Send(ctx, req)
}

// SendAsync starts the call in its own goroutine and returns a Future.
//
// The call context is derived from ctx; Future.Cancel cancels it, which
// aborts every policy waiting on it and the transport. The derived context
// is released when the call fails or when the response body is closed.
func (p *Pipeline) SendAsync(ctx context.Context, req *Request) *Future {
	return Go(ctx, func(ctx context.Context) (*Response, error) {
		return p.Send(ctx, req)
	})
}

// Go runs fn in its own goroutine with a cancellable context derived from
// ctx and returns its Future. It gives callers that wrap Send, such as a
// client checking status codes, the same cancellation semantics as
// SendAsync.
func Go(ctx context.Context, fn func(ctx context.Context) (*Response, error)) *Future {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithCancel(ctx)
	f := newFuture(cancel)

	go func() {
		resp, err := fn(callCtx)
		if err != nil || resp == nil {
			cancel()
		} else {
			resp.onClose(cancel)
		}
		f.complete(resp, err)
	}()

	return f
}

// terminalPolicy hands the request to the transport and normalizes its
// failures into *TransportError.
type terminalPolicy struct {
	transport Transport
}

func (t *terminalPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	if t.transport == nil {
		return nil, ErrNilTransport
	}
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}

	resp, err := t.transport.Send(ctx, req)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	if resp != nil && resp.Request == nil {
		resp.Request = req
	}
	return resp, nil
}
