// Package pipeline provides an outbound HTTP request pipeline: a
// transport-independent Request/Response model, an ordered chain of policies
// in front of a pluggable Transport, and the factories that build it.
//
// # Features
//
//   - Policies composed from factories, each delegating to its successor
//   - Synchronous Send and cancellable asynchronous SendAsync
//   - Retries with exponential backoff, jitter and Retry-After support
//   - Circuit breaking with optional Redis-backed shared state
//   - Token bucket rate limiting
//   - GET caching and coalescing (in-memory or Redis)
//   - Hedged requests for idempotent methods
//   - Fault injection for resilience testing
//   - OpenTelemetry tracing and metrics, Prometheus collectors
//   - Structured logging with zerolog, with optional curl reproduction
//
// # Quick Start
//
//	transport := pipeline.NewHTTPTransport(pipeline.DefaultTransportConfig())
//
//	p := pipeline.New(transport, []pipeline.Factory{
//	    pipeline.UserAgentFactory{UserAgent: "blob-client/1.0"},
//	    pipeline.NewPortFactory(8443),
//	    pipeline.RetryFactory{Config: pipeline.DefaultRetryConfig()},
//	    pipeline.TracingFactory{},
//	}, pipeline.WithServiceName("blob-client"))
//
//	req := pipeline.NewRequest(http.MethodGet, "https://storage.example.com/c1/b1")
//	resp, err := p.Send(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer resp.Close()
//
// # Ordering
//
// Factories are listed outermost first. For factories A, B the call order is
// A (before) → B (before) → Transport → B (after) → A (after). Put Retry
// outside of Tracing to get one span per attempt, inside to get one span per
// call.
//
// # Writing a Policy
//
// A policy does its work and delegates to next. It must not keep
// per-call state on itself since one chain serves concurrent calls:
//
//	type auditFactory struct{}
//
//	func (auditFactory) Create(next pipeline.Policy, opts *pipeline.Options) pipeline.Policy {
//	    return pipeline.PolicyFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
//	        req.Header.Set("X-Audit", "1")
//	        return next.Send(ctx, req)
//	    })
//	}
//
// # Asynchronous Calls
//
//	f := p.SendAsync(ctx, req)
//	// ...
//	resp, err := f.Await(ctx)
//
// Cancel aborts the call; Await then returns an error matching
// context.Canceled. Go does the same for any function returning a Response,
// keeping its context alive until the response is closed.
//
// # Error Handling
//
// Failures of the exchange are returned as *TransportError. Malformed URLs
// surface as *urlbuilder.MalformedURLError before the transport is reached,
// and are never retried:
//
//	var te *pipeline.TransportError
//	if errors.As(err, &te) {
//	    log.Printf("%s %s failed: %v", te.Method, te.URL, te.Err)
//	}
//
// # Testing
//
// MockTransport replaces the network in tests:
//
//	mock := pipeline.NewMockTransport()
//	mock.StubPath("/c1/b1", http.StatusOK, `{"ok":true}`)
//	p := pipeline.New(mock, factories)
package pipeline
