package restclient

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kroma-labs/restpipe/pipeline"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
const EnvPrefix = "RESTPIPE"

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config describes a client: where it sends requests and which policies its
// pipeline runs. The zero value of a section disables it unless noted.
//
// Example (YAML):
//
//	base_url: https://account.blob.core.windows.net
//	service_name: blob-client
//	timeout: 30s
//	retry:
//	  max_retries: 3
//	  initial_interval: 500ms
//	breaker:
//	  enabled: true
//	  consecutive_failures: 5
//	cache:
//	  enabled: true
//	  backend: redis
//	redis:
//	  addrs: ["localhost:6379"]
type Config struct {
	// BaseURL is used by methods without a host template.
	BaseURL string `mapstructure:"base_url"`

	// ServiceName identifies the client in logs, spans and metrics.
	ServiceName string `mapstructure:"service_name"`

	// UserAgent is sent when the request carries none.
	UserAgent string `mapstructure:"user_agent"`

	// Headers are sent on every request unless already present.
	Headers map[string]string `mapstructure:"headers"`

	// Port rewrites the request port when set.
	Port int `mapstructure:"port"`

	// OverwritePort replaces an explicit port in the URL, not only a missing
	// one.
	OverwritePort bool `mapstructure:"overwrite_port"`

	// Timeout bounds a whole call including retries. Zero means none.
	Timeout time.Duration `mapstructure:"timeout"`

	// RequestIDHeader names the client request id header.
	// Default: X-Request-ID
	RequestIDHeader string `mapstructure:"request_id_header"`

	Transport pipeline.TransportConfig `mapstructure:"transport"`
	Retry     pipeline.RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig            `mapstructure:"breaker"`
	RateLimit pipeline.RateLimitConfig `mapstructure:"rate_limit"`
	Hedge     pipeline.HedgeConfig     `mapstructure:"hedge"`
	Chaos     pipeline.ChaosConfig     `mapstructure:"chaos"`
	Cache     CacheConfig              `mapstructure:"cache"`
	Redis     RedisConfig              `mapstructure:"redis"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Telemetry TelemetryConfig          `mapstructure:"telemetry"`
}

// BreakerConfig enables the circuit breaker.
type BreakerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Distributed keeps the breaker state in Redis so every replica trips
	// together.
	Distributed bool `mapstructure:"distributed"`

	pipeline.BreakerConfig `mapstructure:",squash"`
}

// CacheConfig enables response caching of GET requests.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Backend is "memory" or "redis".
	// Default: memory
	Backend string `mapstructure:"backend"`

	// TTL bounds the lifetime of cached responses.
	// Default: 1m
	TTL time.Duration `mapstructure:"ttl"`

	// Prefix is prepended to Redis keys.
	// Default: restpipe:cache:
	Prefix string `mapstructure:"prefix"`

	// VaryHeaders are request headers that select a cache entry.
	// Default: pipeline.DefaultCacheVaryHeaders
	VaryHeaders []string `mapstructure:"vary_headers"`
}

// RedisConfig connects the Redis-backed cache and breaker.
type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

// LoggingConfig controls the logging policy.
type LoggingConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Level is a zerolog level name.
	// Default: info
	Level string `mapstructure:"level"`

	LogRequestBody bool `mapstructure:"log_request_body"`
	MaxBodyLogSize int  `mapstructure:"max_body_log_size"`

	// LogCurl adds a curl reproduction of each request. Credentials are
	// masked.
	LogCurl bool `mapstructure:"log_curl"`
}

// TelemetryConfig controls tracing and metrics.
type TelemetryConfig struct {
	Tracing bool `mapstructure:"tracing"`
	Metrics bool `mapstructure:"metrics"`

	// PrometheusNamespace registers Prometheus collectors when set.
	PrometheusNamespace string `mapstructure:"prometheus_namespace"`
}

// DefaultConfig returns the settings used when nothing is configured:
// pooled transport, default retries, tracing and metrics on, everything else
// off.
func DefaultConfig() Config {
	return Config{
		RequestIDHeader: pipeline.RequestIDHeader,
		Transport:       pipeline.DefaultTransportConfig(),
		Retry:           pipeline.DefaultRetryConfig(),
		Breaker:         BreakerConfig{BreakerConfig: pipeline.DefaultBreakerConfig()},
		Cache: CacheConfig{
			Backend: CacheBackendMemory,
			TTL:     pipeline.DefaultCacheTTL,
			Prefix:  "restpipe:cache:",
		},
		Logging: LoggingConfig{
			Enabled:        true,
			Level:          "info",
			MaxBodyLogSize: 4 * 1024,
		},
		Telemetry: TelemetryConfig{
			Tracing: true,
			Metrics: true,
		},
	}
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "", CacheBackendMemory:
		case CacheBackendRedis:
			if len(c.Redis.Addrs) == 0 {
				errs = append(errs, errors.New("cache backend redis requires redis.addrs"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
		}
	}
	if c.Breaker.Enabled && c.Breaker.Distributed && len(c.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("distributed breaker requires redis.addrs"))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second must not be negative"))
	}
	if c.Hedge.Delay < 0 || c.Hedge.MaxHedges < 0 {
		errs = append(errs, errors.New("hedge.delay and hedge.max_hedges must not be negative"))
	}
	for name, rate := range map[string]float64{
		"chaos.error_rate":   c.Chaos.ErrorRate,
		"chaos.timeout_rate": c.Chaos.TimeoutRate,
	} {
		if rate < 0 || rate > 1 {
			errs = append(errs, fmt.Errorf("%s %v out of range [0, 1]", name, rate))
		}
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML, JSON or TOML file on top of DefaultConfig and
// applies RESTPIPE_* environment overrides. An empty path reads only the
// environment.
//
// Environment keys map to config keys by lower-casing and splitting once on
// a section boundary, so RESTPIPE_RETRY_MAX_RETRIES sets retry.max_retries
// and RESTPIPE_BASE_URL sets base_url.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("restclient: read config %s: %w", path, err)
		}
	}

	bindEnv(v, os.Environ())

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("restclient: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("restclient: invalid config: %w", err)
	}
	return cfg, nil
}

// bindEnv sets every candidate key for the RESTPIPE_* variables in environ.
// Candidates that match no field are ignored by Unmarshal.
func bindEnv(v *viper.Viper, environ []string) {
	prefix := EnvPrefix + "_"
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, candidate := range envKeyVariants(strings.TrimPrefix(key, prefix)) {
			v.Set(candidate, value)
		}
	}
}

// envKeyVariants expands RETRY_MAX_RETRIES into retry_max_retries,
// retry.max_retries and retry_max.retries.
func envKeyVariants(envKey string) []string {
	lower := strings.ToLower(envKey)
	parts := strings.Split(lower, "_")

	variants := []string{lower}
	for i := 1; i < len(parts); i++ {
		variants = append(variants, strings.Join(parts[:i], "_")+"."+strings.Join(parts[i:], "_"))
	}
	return variants
}
