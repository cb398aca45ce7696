package restclient

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/restpipe/pipeline"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, pipeline.RequestIDHeader, cfg.RequestIDHeader)
	assert.Equal(t, pipeline.DefaultRetryConfig(), cfg.Retry)
	assert.Equal(t, pipeline.DefaultTransportConfig(), cfg.Transport)
	assert.False(t, cfg.Breaker.Enabled)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.True(t, cfg.Telemetry.Tracing)
	assert.True(t, cfg.Telemetry.Metrics)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "given defaults, then valid", mutate: func(*Config) {}},
		{
			name:    "given port out of range, then invalid",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "port 70000 out of range",
		},
		{
			name: "given redis cache without addrs, then invalid",
			mutate: func(c *Config) {
				c.Cache.Enabled = true
				c.Cache.Backend = CacheBackendRedis
			},
			wantErr: "requires redis.addrs",
		},
		{
			name: "given unknown cache backend, then invalid",
			mutate: func(c *Config) {
				c.Cache.Enabled = true
				c.Cache.Backend = "memcached"
			},
			wantErr: `unknown cache backend "memcached"`,
		},
		{
			name: "given distributed breaker without addrs, then invalid",
			mutate: func(c *Config) {
				c.Breaker.Enabled = true
				c.Breaker.Distributed = true
			},
			wantErr: "distributed breaker requires redis.addrs",
		},
		{
			name:    "given negative rate, then invalid",
			mutate:  func(c *Config) { c.RateLimit.RequestsPerSecond = -1 },
			wantErr: "must not be negative",
		},
		{
			name:    "given negative hedge count, then invalid",
			mutate:  func(c *Config) { c.Hedge.MaxHedges = -1 },
			wantErr: "hedge.delay and hedge.max_hedges must not be negative",
		},
		{
			name:    "given chaos rate above one, then invalid",
			mutate:  func(c *Config) { c.Chaos.ErrorRate = 1.5 },
			wantErr: "chaos.error_rate 1.5 out of range [0, 1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const yamlConfig = `
base_url: https://account.blob.core.windows.net
service_name: blob-client
user_agent: blob-client/1.0
timeout: 45s
headers:
  x-ms-version: "2017-04-17"
retry:
  max_retries: 5
  initial_interval: 250ms
  status_codes: [500, 503]
breaker:
  enabled: true
  consecutive_failures: 7
  timeout: 10s
rate_limit:
  requests_per_second: 20
  burst: 5
transport:
  max_idle_conns_per_host: 64
logging:
  enabled: false
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "blob.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://account.blob.core.windows.net", cfg.BaseURL)
	assert.Equal(t, "blob-client", cfg.ServiceName)
	assert.Equal(t, "blob-client/1.0", cfg.UserAgent)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, map[string]string{"x-ms-version": "2017-04-17"}, cfg.Headers)

	assert.Equal(t, uint(5), cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, []int{500, 503}, cfg.Retry.StatusCodes)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, pipeline.DefaultRetryConfig().MaxInterval, cfg.Retry.MaxInterval)

	assert.True(t, cfg.Breaker.Enabled)
	assert.Equal(t, uint32(7), cfg.Breaker.ConsecutiveFailures)
	assert.Equal(t, 10*time.Second, cfg.Breaker.Timeout)

	assert.InDelta(t, 20, cfg.RateLimit.RequestsPerSecond, 0.001)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, 64, cfg.Transport.MaxIdleConnsPerHost)
	assert.Equal(t, pipeline.DefaultTransportConfig().DialTimeout, cfg.Transport.DialTimeout)
	assert.False(t, cfg.Logging.Enabled)
}

func TestLoadConfig_JSON(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "blob.json", `{"base_url":"http://localhost:10000","port":10001}`))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:10000", cfg.BaseURL)
	assert.Equal(t, 10001, cfg.Port)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("RESTPIPE_BASE_URL", "https://override.example.com")
	t.Setenv("RESTPIPE_RETRY_MAX_RETRIES", "1")
	t.Setenv("RESTPIPE_RATE_LIMIT_BURST", "9")
	t.Setenv("RESTPIPE_CACHE_TTL", "2m")
	t.Setenv("RESTPIPE_TELEMETRY_TRACING", "false")

	cfg, err := LoadConfig(writeConfig(t, "blob.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com", cfg.BaseURL)
	assert.Equal(t, uint(1), cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 9, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Telemetry.Tracing)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restclient: read config")

	_, err = LoadConfig(writeConfig(t, "bad.yaml", "port: 70000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestEnvKeyVariants(t *testing.T) {
	assert.Equal(t, []string{"timeout"}, envKeyVariants("TIMEOUT"))
	assert.Equal(t,
		[]string{"rate_limit_burst", "rate.limit_burst", "rate_limit.burst"},
		envKeyVariants("RATE_LIMIT_BURST"))
}

func factoryTypes(factories []pipeline.Factory) []string {
	names := make([]string, 0, len(factories))
	for _, f := range factories {
		switch f.(type) {
		case pipeline.RequestIDFactory:
			names = append(names, "request_id")
		case pipeline.UserAgentFactory:
			names = append(names, "user_agent")
		case pipeline.HeadersFactory:
			names = append(names, "headers")
		case pipeline.TracingFactory:
			names = append(names, "tracing")
		case pipeline.MetricsFactory:
			names = append(names, "metrics")
		case *pipeline.PrometheusFactory:
			names = append(names, "prometheus")
		case pipeline.BearerTokenFactory:
			names = append(names, "bearer")
		case pipeline.CacheFactory:
			names = append(names, "cache")
		case pipeline.TimeoutFactory:
			names = append(names, "timeout")
		case pipeline.RetryFactory:
			names = append(names, "retry")
		case pipeline.CircuitBreakerFactory:
			names = append(names, "breaker")
		case pipeline.RateLimitFactory:
			names = append(names, "rate_limit")
		case pipeline.HedgeFactory:
			names = append(names, "hedge")
		case pipeline.ChaosFactory:
			names = append(names, "chaos")
		case pipeline.PortFactory:
			names = append(names, "port")
		case pipeline.LoggingFactory:
			names = append(names, "logging")
		default:
			names = append(names, "custom")
		}
	}
	return names
}

func TestConfig_Factories(t *testing.T) {
	t.Run("given defaults, then minimal chain", func(t *testing.T) {
		factories, err := DefaultConfig().Factories()
		require.NoError(t, err)
		assert.Equal(t, []string{"request_id", "tracing", "metrics", "retry", "logging"}, factoryTypes(factories))
	})

	t.Run("given every section, then ordered chain", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.UserAgent = "ua"
		cfg.Headers = map[string]string{"x-ms-version": "1"}
		cfg.Telemetry.PrometheusNamespace = "blob"
		cfg.Cache.Enabled = true
		cfg.Timeout = time.Second
		cfg.Breaker.Enabled = true
		cfg.RateLimit = pipeline.DefaultRateLimitConfig()
		cfg.Port = 8443
		cfg.Hedge = pipeline.HedgeConfig{Delay: 50 * time.Millisecond, MaxHedges: 1}
		cfg.Chaos = pipeline.ChaosConfig{ErrorRate: 0.1}

		custom := pipeline.FactoryFunc(func(next pipeline.Policy, _ *pipeline.Options) pipeline.Policy { return next })
		factories, err := cfg.Factories(
			WithPrometheusRegisterer(prometheus.NewRegistry()),
			WithCredential(pipeline.StaticToken("t")),
			WithFactories(custom),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"request_id", "user_agent", "headers", "tracing", "metrics", "prometheus", "bearer", "custom",
			"cache", "timeout", "retry", "breaker", "rate_limit", "hedge", "port", "logging", "chaos",
		}, factoryTypes(factories))
	})

	t.Run("given custom request id header, then logging reads it", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RequestIDHeader = "x-ms-client-request-id"
		cfg.Cache.Enabled = true
		cfg.Cache.VaryHeaders = []string{"x-ms-version"}

		factories, err := cfg.Factories()
		require.NoError(t, err)

		var logging pipeline.LoggingFactory
		var cache pipeline.CacheFactory
		for _, f := range factories {
			switch v := f.(type) {
			case pipeline.LoggingFactory:
				logging = v
			case pipeline.CacheFactory:
				cache = v
			}
		}
		assert.Equal(t, "x-ms-client-request-id", logging.RequestIDHeader)
		assert.Equal(t, []string{"x-ms-version"}, cache.VaryHeaders)
	})

	t.Run("given redis sections without client, then error", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Enabled = true
		cfg.Cache.Backend = CacheBackendRedis
		_, err := cfg.Factories()
		assert.ErrorContains(t, err, "redis cache requires a redis client")

		cfg = DefaultConfig()
		cfg.Breaker.Enabled = true
		cfg.Breaker.Distributed = true
		_, err = cfg.Factories()
		assert.ErrorContains(t, err, "distributed breaker requires a redis client")
	})

	t.Run("given redis client, then distributed breaker gets a store", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		cfg := DefaultConfig()
		cfg.Breaker.Enabled = true
		cfg.Breaker.Distributed = true
		factories, err := cfg.Factories(WithRedisClient(rdb))
		require.NoError(t, err)

		var found bool
		for _, f := range factories {
			if b, ok := f.(pipeline.CircuitBreakerFactory); ok {
				found = true
				assert.NotNil(t, b.Config.Store)
			}
		}
		assert.True(t, found)
	})
}
