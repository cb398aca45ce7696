package pipeline

import (
	"context"
)

// Policy is one stage of a request pipeline.
//
// A policy receives the request, may modify it, must delegate to its
// successor exactly once (or short-circuit with an error or a synthesized
// response) and may inspect or transform the response on the way back.
// Policies must not keep per-call state on themselves: a built chain is shared
// by concurrent calls.
type Policy interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(ctx context.Context, req *Request) (*Response, error)

// Send calls f(ctx, req).
func (f PolicyFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Factory creates a policy bound to its successor.
//
// Factories are immutable configuration values. Create is called once per
// chain built; any state shared by the calls of one chain (limiters,
// breakers) is created there.
type Factory interface {
	Create(next Policy, opts *Options) Policy
}

// FactoryFunc adapts a function to the Factory interface.
//
// Example:
//
//	trace := pipeline.FactoryFunc(func(next pipeline.Policy, _ *pipeline.Options) pipeline.Policy {
//	    return pipeline.PolicyFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
//	        req.Header.Set("X-Debug", "1")
//	        return next.Send(ctx, req)
//	    })
//	})
type FactoryFunc func(next Policy, opts *Options) Policy

// Create calls f(next, opts).
func (f FactoryFunc) Create(next Policy, opts *Options) Policy {
	return f(next, opts)
}
