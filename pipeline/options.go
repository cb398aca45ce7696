package pipeline

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/restpipe/pipeline"
)

// Options carries the collaborators shared by every policy of a chain.
// Factories read it in Create; it must not be modified afterwards.
//
// Use NewOptions to get a properly initialized value.
type Options struct {
	// ServiceName identifies the client in spans, metrics and logs.
	// Added as "http.client.name" attribute when set.
	ServiceName string

	// Logger is the structured logger used by policies.
	// Default: zerolog.Nop()
	Logger zerolog.Logger

	// TracerProvider is the tracer provider to use.
	// If not set, uses the global provider via otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If not set, uses the global provider via otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// Propagators injects trace context into outgoing headers.
	// Default: TraceContext + Baggage (W3C standard)
	Propagators propagation.TextMapPropagator

	// Tracer is created from TracerProvider.
	Tracer trace.Tracer

	// Meter is created from MeterProvider.
	Meter metric.Meter

	metrics *metrics
}

// Option configures Options.
type Option func(*Options)

// NewOptions creates Options with defaults and applies opts.
func NewOptions(opts ...Option) *Options {
	o := &Options{
		Logger:         zerolog.Nop(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Propagators: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}

	for _, opt := range opts {
		opt(o)
	}

	// Initialize tracer and meter after options are applied
	o.Tracer = o.TracerProvider.Tracer(scope)
	o.Meter = o.MeterProvider.Meter(scope)

	// Instruments are optional; a nil *metrics records nothing.
	o.metrics, _ = newMetrics(o.Meter)

	return o
}

// baseAttributes returns common attributes for all spans and metrics.
func (o *Options) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if o.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", o.ServiceName))
	}
	return attrs
}

// WithServiceName sets an identifier for this client.
//
// Example:
//
//	p := pipeline.New(transport, factories,
//	    pipeline.WithServiceName("blob-client"),
//	)
func WithServiceName(name string) Option {
	return func(o *Options) {
		o.ServiceName = name
	}
}

// WithLogger sets the logger used by the logging and retry policies.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	p := pipeline.New(transport, factories, pipeline.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	)
//	p := pipeline.New(transport, factories, pipeline.WithTracerProvider(tp))
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		if tp != nil {
			o.TracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) {
		if mp != nil {
			o.MeterProvider = mp
		}
	}
}

// WithPropagators sets custom context propagators for trace context injection.
// By default, W3C TraceContext and Baggage propagators are used.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(o *Options) {
		if p != nil {
			o.Propagators = p
		}
	}
}
