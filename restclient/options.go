package restclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/restpipe/codec"
	"github.com/kroma-labs/restpipe/pipeline"
)

type options struct {
	transport      pipeline.Transport
	factories      []pipeline.Factory
	serializer     codec.Serializer
	logger         *zerolog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	registerer     prometheus.Registerer
	redis          redis.UniversalClient
	credential     pipeline.TokenCredential
	scopes         []string
}

// Option configures a Client.
type Option func(*options)

// WithTransport replaces the net/http transport built from Config.Transport.
//
// Example:
//
//	restclient.New(cfg, restclient.WithTransport(pipeline.NewMockTransport().StubResponse(200, "")))
func WithTransport(t pipeline.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithFactories adds policies to the chain. They run after the request id,
// user agent and static header policies and before caching and retries, so
// they run once per call.
func WithFactories(factories ...pipeline.Factory) Option {
	return func(o *options) {
		o.factories = append(o.factories, factories...)
	}
}

// WithSerializer sets the body codec. Default: codec.Default
func WithSerializer(s codec.Serializer) Option {
	return func(o *options) {
		o.serializer = s
	}
}

// WithLogger sets the logger. The configured logging level is applied on
// top of it.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithTracerProvider sets the tracer provider. Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider. Default: the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithPrometheusRegisterer sets where Prometheus collectors are registered
// when Telemetry.PrometheusNamespace is set.
// Default: prometheus.DefaultRegisterer
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithRedisClient shares an existing Redis client with the cache and the
// distributed breaker. The client is not closed by Client.Close.
func WithRedisClient(rdb redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = rdb
	}
}

// WithCredential adds bearer token authentication.
func WithCredential(cred pipeline.TokenCredential, scopes ...string) Option {
	return func(o *options) {
		o.credential = cred
		o.scopes = scopes
	}
}
