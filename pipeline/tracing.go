package pipeline

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/restpipe/urlbuilder"
)

// Error type classifications for the error.type attribute.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeMalformedURL      = "malformed_url"
	ErrorTypeUnknown           = "unknown"
)

// SpanNameFormatter formats span names from the request.
// Default: "HTTP {method}"
type SpanNameFormatter func(req *Request) string

// TracingFactory creates policies that wrap the rest of the chain in a
// client span and inject the trace context into the request headers.
//
// Placed outside RetryFactory one span covers all attempts and each retry
// is recorded as a span event; placed inside, every attempt gets its own
// span.
type TracingFactory struct {
	// SpanNameFormatter overrides the span name.
	SpanNameFormatter SpanNameFormatter

	// Filter skips tracing when it returns false.
	Filter func(req *Request) bool
}

// Create implements Factory.
func (f TracingFactory) Create(next Policy, opts *Options) Policy {
	if opts == nil {
		opts = NewOptions()
	}
	return &tracingPolicy{
		next:       next,
		opts:       opts,
		tracer:     opts.Tracer,
		propagator: opts.Propagators,
		spanName:   f.SpanNameFormatter,
		filter:     f.Filter,
	}
}

type tracingPolicy struct {
	next       Policy
	opts       *Options
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	spanName   SpanNameFormatter
	filter     func(*Request) bool
}

func (p *tracingPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	if p.filter != nil && !p.filter(req) {
		return p.next.Send(ctx, req)
	}

	name := "HTTP " + req.Method
	if p.spanName != nil {
		name = p.spanName(req)
	}

	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(p.requestAttributes(req)...),
	)
	defer span.End()

	// Inject trace context into request headers
	p.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := p.next.Send(ctx, req)
	if err != nil {
		setSpanError(span, err, classifyError(err))
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.ContentLength > 0 {
		span.SetAttributes(attribute.Int64("http.response.body.size", resp.ContentLength))
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
	}

	return resp, nil
}

// requestAttributes returns span attributes for the request.
func (p *tracingPolicy) requestAttributes(req *Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)
	attrs = append(attrs, p.opts.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	attrs = append(attrs, serverAttributes(req)...)

	if n := req.ContentLength(); n > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", n))
	}
	if ua := req.Header.Get("User-Agent"); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}

// serverAttributes returns url.full, url.scheme, server.address and
// server.port. A URL that does not parse contributes url.full only.
func serverAttributes(req *Request) []attribute.KeyValue {
	u, err := urlbuilder.Parse(req.URL)
	if err != nil {
		return []attribute.KeyValue{attribute.String("url.full", req.URL)}
	}

	attrs := []attribute.KeyValue{
		attribute.String("url.full", u.String()),
		attribute.String("url.scheme", u.Scheme()),
		attribute.String("server.address", u.Host()),
	}

	if port, ok := u.Port(); ok {
		attrs = append(attrs, attribute.Int("server.port", port))
	} else {
		// Default ports
		switch u.Scheme() {
		case "http":
			attrs = append(attrs, attribute.Int("server.port", 80))
		case "https":
			attrs = append(attrs, attribute.Int("server.port", 443))
		}
	}
	return attrs
}

// recordRetryEvent adds a span event for a retry.
func recordRetryEvent(span trace.Span, attempt int, reason string, delay time.Duration) {
	if !span.IsRecording() {
		return
	}
	span.AddEvent("http.retry", trace.WithAttributes(
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.delay_ms", delay.Milliseconds()),
		attribute.String("retry.reason", reason),
	))
}

// classifyError returns an error.type classification for the given error.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	// Check for context cancellation
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}

	// Check for deadline exceeded (timeout)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var malformed *urlbuilder.MalformedURLError
	if errors.As(err, &malformed) {
		return ErrorTypeMalformedURL
	}

	// Check for network errors
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}

	// Check for DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorTypeDNSError
	}

	// Check for TLS errors
	var tlsRecordErr *tls.RecordHeaderError
	if errors.As(err, &tlsRecordErr) {
		return ErrorTypeTLSError
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrorTypeTLSError
	}

	// Check for syscall-level errors
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorTypeConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return ErrorTypeConnectionReset
	}
	if errors.Is(err, io.EOF) {
		return ErrorTypeEOF
	}

	// Fallback: check error message for common patterns
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(errStr, "connection refused"):
		return ErrorTypeConnectionRefused
	case strings.Contains(errStr, "connection reset"):
		return ErrorTypeConnectionReset
	case strings.Contains(errStr, "no such host"):
		return ErrorTypeDNSError
	case strings.Contains(errStr, "x509") || strings.Contains(errStr, "certificate"):
		return ErrorTypeTLSError
	case strings.Contains(errStr, "eof"):
		return ErrorTypeEOF
	}

	return ErrorTypeUnknown
}

// errorTypeFromStatusCode returns error.type for HTTP status codes.
// Per OTel semconv, the status code itself is used as the error type for 4xx/5xx.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return ""
}

// setSpanError records an error on the span with proper status and attributes.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}
