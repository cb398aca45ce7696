package pipeline

import (
	"context"
	"fmt"

	"github.com/kroma-labs/restpipe/urlbuilder"
)

// PortFactory creates policies that set the port of the request URL.
//
// With Overwrite the configured port always replaces the URL's port;
// without it the port is only added to URLs that carry none.
//
// Example:
//
//	// http://example.com:8080/a becomes http://example.com:9090/a
//	pipeline.NewPortFactory(9090)
//
//	// http://example.com:8080/a is left alone, http://example.com/a gets :9090
//	pipeline.PortFactory{Port: 9090, Overwrite: false}
type PortFactory struct {
	Port      int
	Overwrite bool
}

// NewPortFactory returns a PortFactory that overwrites existing ports.
func NewPortFactory(port int) PortFactory {
	return PortFactory{Port: port, Overwrite: true}
}

// Create implements Factory.
func (f PortFactory) Create(next Policy, _ *Options) Policy {
	return &portPolicy{port: f.Port, overwrite: f.Overwrite, next: next}
}

type portPolicy struct {
	port      int
	overwrite bool
	next      Policy
}

func (p *portPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	u, err := req.ParsedURL()
	if err != nil {
		return nil, err
	}
	if p.port < 0 || p.port > urlbuilder.MaxPort {
		return nil, &urlbuilder.MalformedURLError{
			Raw: req.URL,
			Err: fmt.Errorf("%w: %d", urlbuilder.ErrInvalidPort, p.port),
		}
	}

	if _, hasPort := u.Port(); p.overwrite || !hasPort {
		req.SetURL(u.WithPort(p.port))
	}
	return p.next.Send(ctx, req)
}
