package restclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kroma-labs/restpipe/binding"
	"github.com/kroma-labs/restpipe/codec"
	"github.com/kroma-labs/restpipe/pipeline"
)

// Client binds Methods into requests and sends them through a pipeline.
// A Client is safe for concurrent use.
type Client struct {
	cfg        Config
	binder     *binding.Binder
	pipeline   *pipeline.Pipeline
	serializer codec.Serializer
	logger     zerolog.Logger

	// ownedRedis is closed by Close; shared clients are not.
	ownedRedis redis.UniversalClient
}

// New builds a Client from cfg.
//
// Example:
//
//	cfg, err := restclient.LoadConfig("config/blob.yaml")
//	if err != nil {
//	    return err
//	}
//	client, err := restclient.New(cfg,
//	    restclient.WithLogger(log.Logger),
//	    restclient.WithCredential(cred, "https://storage.azure.com/.default"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	resp, err := client.Call(ctx, getBlob, "c1", "b1")
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("restclient: invalid config: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	serializer := o.serializer
	if serializer == nil {
		serializer = codec.Default
	}

	binder, err := binding.NewBinder(cfg.BaseURL, serializer)
	if err != nil {
		return nil, fmt.Errorf("restclient: base url: %w", err)
	}

	var owned redis.UniversalClient
	if o.redis == nil && cfg.needsRedis() {
		owned = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		o.redis = owned
	}

	factories, err := cfg.factories(o)
	if err != nil {
		if owned != nil {
			_ = owned.Close()
		}
		return nil, err
	}

	logger := newLogger(cfg.Logging, o.logger)

	popts := []pipeline.Option{
		pipeline.WithServiceName(cfg.ServiceName),
		pipeline.WithLogger(logger),
	}
	if o.tracerProvider != nil {
		popts = append(popts, pipeline.WithTracerProvider(o.tracerProvider))
	}
	if o.meterProvider != nil {
		popts = append(popts, pipeline.WithMeterProvider(o.meterProvider))
	}

	transport := o.transport
	if transport == nil {
		transport = pipeline.NewHTTPTransport(cfg.Transport)
	}

	return &Client{
		cfg:        cfg,
		binder:     binder,
		pipeline:   pipeline.New(transport, factories, popts...),
		serializer: serializer,
		logger:     logger,
		ownedRedis: owned,
	}, nil
}

func newLogger(cfg LoggingConfig, base *zerolog.Logger) zerolog.Logger {
	var logger zerolog.Logger
	switch {
	case base != nil:
		logger = *base
	case cfg.Enabled:
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return zerolog.Nop()
	}

	if cfg.Level != "" {
		if lvl, err := zerolog.ParseLevel(cfg.Level); err == nil {
			logger = logger.Level(lvl)
		}
	}
	return logger
}

// Pipeline returns the underlying pipeline for sending hand-built requests.
func (c *Client) Pipeline() *pipeline.Pipeline {
	return c.pipeline
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// Call binds args to m, sends the request and checks the status code.
//
// On success the caller owns the response and must close it. A status
// outside m.ExpectedStatus (any 2xx when empty) returns
// *UnexpectedStatusError with the body already read and closed.
func (c *Client) Call(ctx context.Context, m *binding.Method, args ...any) (*pipeline.Response, error) {
	req, err := c.binder.Bind(m, args...)
	if err != nil {
		return nil, err
	}

	resp, err := c.pipeline.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if !m.Expects(resp.StatusCode) {
		body, _ := readLimited(resp)
		c.logger.Debug().
			Str("operation", m.Name).
			Int("status", resp.StatusCode).
			Msg("unexpected status")
		return nil, &UnexpectedStatusError{
			Method:     m.Name,
			StatusCode: resp.StatusCode,
			Expected:   m.ExpectedStatus,
			Body:       body,
			Response:   resp,
		}
	}

	return resp, nil
}

// CallAsync runs Call in its own goroutine. Cancelling the Future cancels
// the call.
func (c *Client) CallAsync(ctx context.Context, m *binding.Method, args ...any) *pipeline.Future {
	return pipeline.Go(ctx, func(ctx context.Context) (*pipeline.Response, error) {
		return c.Call(ctx, m, args...)
	})
}

// CallInto is Call followed by Decode into out.
func (c *Client) CallInto(ctx context.Context, out any, m *binding.Method, args ...any) error {
	resp, err := c.Call(ctx, m, args...)
	if err != nil {
		return err
	}
	return c.Decode(resp, out)
}

// Decode reads and closes the response body and decodes it into target
// according to the response Content-Type.
func (c *Client) Decode(resp *pipeline.Response, target any) error {
	if resp == nil {
		return errors.New("restclient: nil response")
	}
	data, err := resp.Bytes()
	if err != nil {
		return fmt.Errorf("restclient: read body: %w", err)
	}
	if target == nil {
		return nil
	}
	return c.serializer.Deserialize(data, resp.Header.Get("Content-Type"), target)
}

// Close releases the Redis client created from Config.Redis, if any.
func (c *Client) Close() error {
	if c.ownedRedis != nil {
		return c.ownedRedis.Close()
	}
	return nil
}

func readLimited(resp *pipeline.Response) ([]byte, error) {
	// Stream then Close leaves the remainder undrained beyond the limit.
	stream, err := resp.Stream()
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Close() }()
	return io.ReadAll(io.LimitReader(stream, maxErrorBody))
}

func (c Config) needsRedis() bool {
	return (c.Cache.Enabled && c.Cache.Backend == CacheBackendRedis) ||
		(c.Breaker.Enabled && c.Breaker.Distributed)
}

// Factories returns the policy chain described by c, in execution order:
//
//	request id, user agent, static headers, [tracing], [metrics],
//	[prometheus], [bearer token], extra factories, [cache], [timeout],
//	[retry], [breaker], [rate limit], [port], [logging]
//
// Per-call policies sit outside the retry policy; per-attempt policies sit
// inside it. Options supply the collaborators a section needs, such as the
// Redis client for a redis cache.
func (c Config) Factories(opts ...Option) ([]pipeline.Factory, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return c.factories(o)
}

func (c Config) factories(o *options) ([]pipeline.Factory, error) {
	factories := []pipeline.Factory{
		pipeline.RequestIDFactory{Header: c.RequestIDHeader},
	}
	if c.UserAgent != "" {
		factories = append(factories, pipeline.UserAgentFactory{UserAgent: c.UserAgent})
	}
	if len(c.Headers) > 0 {
		factories = append(factories, pipeline.HeadersFactory{Headers: c.Headers})
	}

	if c.Telemetry.Tracing {
		factories = append(factories, pipeline.TracingFactory{})
	}
	if c.Telemetry.Metrics {
		factories = append(factories, pipeline.MetricsFactory{})
	}
	if c.Telemetry.PrometheusNamespace != "" {
		reg := o.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		prom, err := pipeline.NewPrometheusFactory(reg, c.Telemetry.PrometheusNamespace)
		if err != nil {
			return nil, fmt.Errorf("restclient: register prometheus collectors: %w", err)
		}
		factories = append(factories, prom)
	}

	if o.credential != nil {
		factories = append(factories, pipeline.BearerTokenFactory{Credential: o.credential, Scopes: o.scopes})
	}
	factories = append(factories, o.factories...)

	if c.Cache.Enabled {
		var store pipeline.CacheStore
		switch c.Cache.Backend {
		case CacheBackendRedis:
			if o.redis == nil {
				return nil, errors.New("restclient: redis cache requires a redis client")
			}
			store = pipeline.NewRedisCacheStore(o.redis, c.Cache.Prefix)
		default:
			store = pipeline.NewMemoryCacheStore()
		}
		factories = append(factories, pipeline.CacheFactory{
			Store:       store,
			TTL:         c.Cache.TTL,
			VaryHeaders: c.Cache.VaryHeaders,
		})
	}

	if c.Timeout > 0 {
		factories = append(factories, pipeline.TimeoutFactory{Timeout: c.Timeout})
	}
	if c.Retry.IsEnabled() {
		factories = append(factories, pipeline.RetryFactory{Config: c.Retry})
	}

	if c.Breaker.Enabled {
		cfg := c.Breaker.BreakerConfig
		if c.Breaker.Distributed {
			if o.redis == nil {
				return nil, errors.New("restclient: distributed breaker requires a redis client")
			}
			cfg.Store = pipeline.NewRedisStore(o.redis)
		}
		factories = append(factories, pipeline.CircuitBreakerFactory{Config: cfg})
	}
	if c.RateLimit.RequestsPerSecond > 0 {
		factories = append(factories, pipeline.RateLimitFactory{Config: c.RateLimit})
	}
	if c.Hedge.Enabled() {
		factories = append(factories, pipeline.HedgeFactory{Config: c.Hedge})
	}
	if c.Port > 0 {
		factories = append(factories, pipeline.PortFactory{Port: c.Port, Overwrite: c.OverwritePort})
	}
	if c.Logging.Enabled {
		factories = append(factories, pipeline.LoggingFactory{
			LogRequestBody:  c.Logging.LogRequestBody,
			MaxBodyLogSize:  c.Logging.MaxBodyLogSize,
			LogCurl:         c.Logging.LogCurl,
			RequestIDHeader: c.RequestIDHeader,
		})
	}
	// Injected faults show up in the logs like real ones.
	if c.Chaos.Enabled() {
		factories = append(factories, pipeline.ChaosFactory{Config: c.Chaos})
	}

	return factories, nil
}
