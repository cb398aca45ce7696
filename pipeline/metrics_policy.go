package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// MetricsFactory creates policies that record OpenTelemetry request metrics:
// http.client.request.duration, http.client.request.body.size,
// http.client.active_requests and http.client.request.error.
//
// Instruments come from the Options meter, so all chains built with the same
// Options share them.
type MetricsFactory struct {
	// AttributesFn adds dynamic attributes to every recorded metric.
	AttributesFn func(req *Request) []attribute.KeyValue
}

// Create implements Factory.
func (f MetricsFactory) Create(next Policy, opts *Options) Policy {
	if opts == nil {
		opts = NewOptions()
	}
	return &metricsPolicy{next: next, opts: opts, attrsFn: f.AttributesFn}
}

type metricsPolicy struct {
	next    Policy
	opts    *Options
	attrsFn func(*Request) []attribute.KeyValue
}

func (p *metricsPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	m := p.opts.metrics
	start := time.Now()

	baseAttrs := p.opts.baseAttributes()
	if p.attrsFn != nil {
		baseAttrs = append(baseAttrs, p.attrsFn(req)...)
	}

	m.recordActiveRequestStart(ctx, baseAttrs)
	defer m.recordActiveRequestEnd(ctx, baseAttrs)

	if n := req.ContentLength(); n > 0 {
		m.recordRequestBodySize(ctx, n, baseAttrs)
	}

	resp, err := p.next.Send(ctx, req)
	duration := time.Since(start)

	attrs := make([]attribute.KeyValue, 0, len(baseAttrs)+5)
	attrs = append(attrs, baseAttrs...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	for _, a := range serverAttributes(req) {
		if a.Key == "server.address" || a.Key == "server.port" {
			attrs = append(attrs, a)
		}
	}

	if err != nil {
		errorType := classifyError(err)
		m.recordError(ctx, errorType, baseAttrs)
		m.recordRequestDuration(ctx, duration, append(attrs, attribute.String("error.type", errorType)))
		return nil, err
	}
	if resp == nil {
		m.recordRequestDuration(ctx, duration, attrs)
		return nil, nil
	}

	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		attrs = append(attrs, attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
	}
	m.recordRequestDuration(ctx, duration, attrs)

	return resp, nil
}
