package pipeline

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader is the default header for client request IDs.
const RequestIDHeader = "X-Request-ID"

// RequestIDFactory creates policies that tag each request with a unique ID.
//
// Behavior:
//   - If the header is already set, it is forwarded unchanged
//   - Otherwise, a new UUID v4 is generated
//
// Place it outside RetryFactory so every attempt of one call carries the same
// ID.
type RequestIDFactory struct {
	// Header is the header name. Default: X-Request-ID
	Header string

	// Generate returns a new ID. Default: uuid.NewString
	Generate func() string
}

// Create implements Factory.
func (f RequestIDFactory) Create(next Policy, _ *Options) Policy {
	header := f.Header
	if header == "" {
		header = RequestIDHeader
	}
	generate := f.Generate
	if generate == nil {
		generate = uuid.NewString
	}

	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if req.Header.Get(header) == "" {
			req.Header.Set(header, generate())
		}
		return next.Send(ctx, req)
	})
}
