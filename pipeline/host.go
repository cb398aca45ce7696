package pipeline

import (
	"context"
)

// HostFactory creates policies that redirect requests to another host, and
// optionally another scheme. The port and path are kept.
type HostFactory struct {
	Host   string
	Scheme string
}

// Create implements Factory.
func (f HostFactory) Create(next Policy, _ *Options) Policy {
	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		u, err := req.ParsedURL()
		if err != nil {
			return nil, err
		}
		if f.Host != "" {
			u = u.WithHost(f.Host)
		}
		if f.Scheme != "" {
			u = u.WithScheme(f.Scheme)
		}
		req.SetURL(u)
		return next.Send(ctx, req)
	})
}
