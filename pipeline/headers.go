package pipeline

import (
	"context"
)

// HeadersFactory creates policies that add static headers to every request.
//
// Without Overwrite a header already present on the request (for example one
// produced by the binder) is kept.
//
// Example:
//
//	pipeline.HeadersFactory{
//	    Headers: map[string]string{"x-ms-version": "2018-03-28"},
//	}
type HeadersFactory struct {
	Headers   map[string]string
	Overwrite bool
}

// Create implements Factory.
func (f HeadersFactory) Create(next Policy, _ *Options) Policy {
	headers := make(map[string]string, len(f.Headers))
	for k, v := range f.Headers {
		headers[k] = v
	}
	overwrite := f.Overwrite

	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		for name, value := range headers {
			if overwrite || req.Header.Get(name) == "" {
				req.Header.Set(name, value)
			}
		}
		return next.Send(ctx, req)
	})
}

// UserAgentFactory creates policies that set User-Agent when the request has
// none.
type UserAgentFactory struct {
	UserAgent string
}

// Create implements Factory.
func (f UserAgentFactory) Create(next Policy, _ *Options) Policy {
	ua := f.UserAgent
	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if ua != "" && req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", ua)
		}
		return next.Send(ctx, req)
	})
}
