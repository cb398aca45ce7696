package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis for distributed
// circuit breaking, using the sony/gobreaker/v2/redis implementation.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	store := pipeline.NewRedisStore(rdb)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is the subset of gobreaker used by the breaker policy.
type CircuitBreaker interface {
	Execute(req func() (interface{}, error)) (interface{}, error)
}

// BreakerClassifier determines if an outcome counts as a failure for the
// breaker.
type BreakerClassifier func(resp *Response, err error) bool

// BreakerConfig holds the configuration for the circuit breaker.
//
// Concepts:
//   - Closed: Normal state, requests allowed.
//   - Open: Failing state, requests rejected immediately.
//   - Half-Open: Probing state, limited requests allowed to test recovery.
type BreakerConfig struct {
	// Name identifies the breaker; distributed breakers sharing a name share
	// state. Default: the service name, or "restpipe".
	Name string `mapstructure:"name"`

	// MaxRequests is the number of requests allowed through when half-open.
	// If 0, the circuit breaker allows 1 request.
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Interval is the cyclic period of the closed state after which counts
	// are cleared. If 0, counts are never cleared while closed.
	Interval time.Duration `mapstructure:"interval"`

	// Timeout is the period of the open state after which the breaker
	// becomes half-open.
	Timeout time.Duration `mapstructure:"timeout"`

	// FailureThreshold is the minimum number of requests needed before the
	// failure ratio can trip the breaker.
	FailureThreshold uint32 `mapstructure:"failure_threshold"`

	// FailureRatio (0.0 - 1.0) trips the breaker once reached.
	FailureRatio float64 `mapstructure:"failure_ratio"`

	// ConsecutiveFailures trips the breaker after that many failures in a
	// row. If 0, this rule is disabled.
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures"`

	// Store is the shared data store for distributed circuit breaking.
	// If nil, the circuit breaker is local (in-memory).
	Store gobreaker.SharedDataStore `mapstructure:"-"`

	// Classifier determines which outcomes count as failures.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier `mapstructure:"-"`

	// OnStateChange is invoked when the breaker state changes.
	OnStateChange func(name string, from, to gobreaker.State) `mapstructure:"-"`
}

// DefaultBreakerConfig returns a configuration for a local breaker:
// 10s interval and open timeout, trips at 50% failures over at least 20
// requests or after 5 consecutive failures.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig backed by store, so
// that every instance using the same breaker name shares one state.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts 5xx responses and network-level transport
// failures. 429 is left to the retry policy; cancellations are not failures
// of the remote side.
func DefaultBreakerClassifier(resp *Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		return IsTransportError(err) && (isNetworkError(err) || errors.Is(err, context.DeadlineExceeded))
	}
	return resp != nil && resp.StatusCode >= 500
}

// errSyntheticFailure signals the breaker that a call failed (e.g. a 500)
// although the successor returned a response. It never reaches the caller.
var errSyntheticFailure = errors.New("synthetic failure")

// breakerFailure marks an outcome the classifier counted as a failure.
// Errors not wrapped in it pass through the breaker as successes.
type breakerFailure struct {
	err error
}

func (e *breakerFailure) Error() string { return e.err.Error() }
func (e *breakerFailure) Unwrap() error { return e.err }

func isBreakerSuccess(err error) bool {
	var failure *breakerFailure
	return !errors.As(err, &failure)
}

// CircuitBreakerFactory creates policies that guard the rest of the chain
// with a circuit breaker. The breaker is created per chain in Create and
// shared by all calls through that chain.
//
// When open, calls fail with gobreaker.ErrOpenState (or ErrTooManyRequests
// when half-open and saturated) without reaching the successor.
type CircuitBreakerFactory struct {
	Config BreakerConfig

	// Breaker replaces the gobreaker instance, mainly for tests.
	Breaker CircuitBreaker
}

// Create implements Factory.
func (f CircuitBreakerFactory) Create(next Policy, opts *Options) Policy {
	if opts == nil {
		opts = NewOptions()
	}
	cfg := f.Config

	name := cfg.Name
	if name == "" {
		name = opts.ServiceName
	}
	if name == "" {
		name = "restpipe"
	}

	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	cb := f.Breaker
	if cb == nil {
		cb = newGoBreaker(name, cfg, opts)
	}

	return &breakerPolicy{
		breaker:    cb,
		next:       next,
		classifier: classifier,
		opts:       opts,
		name:       name,
	}
}

func newGoBreaker(name string, cfg BreakerConfig, opts *Options) CircuitBreaker {
	st := gobreaker.Settings{
		Name:         name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: isBreakerSuccess,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureThreshold > 0 && counts.Requests < cfg.FailureThreshold {
				return false
			}
			if cfg.FailureRatio > 0 && counts.Requests > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.metrics.recordBreakerState(context.Background(), name, int64(to))
			opts.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	if cfg.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[interface{}](cfg.Store, st)
		if err == nil {
			return dcb
		}
		// A local breaker still protects this process.
		opts.Logger.Warn().Err(err).Str("breaker", name).Msg("distributed breaker unavailable, using local state")
	}
	return gobreaker.NewCircuitBreaker[interface{}](st)
}

type breakerPolicy struct {
	breaker    CircuitBreaker
	next       Policy
	classifier BreakerClassifier
	opts       *Options
	name       string
}

func (p *breakerPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	res, err := p.breaker.Execute(func() (interface{}, error) {
		resp, err := p.next.Send(ctx, req)
		if p.classifier(resp, err) {
			if err == nil {
				err = errSyntheticFailure
			}
			return resp, &breakerFailure{err: err}
		}
		return resp, err
	})

	resp, _ := res.(*Response)

	var failure *breakerFailure
	switch {
	case err == nil:
		p.opts.metrics.recordBreakerRequest(ctx, p.name, "success")
		return resp, nil
	case errors.As(err, &failure):
		p.opts.metrics.recordBreakerRequest(ctx, p.name, "failure")
		if errors.Is(failure.err, errSyntheticFailure) {
			return resp, nil
		}
		return nil, failure.err
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		p.opts.metrics.recordBreakerRequest(ctx, p.name, "rejected")
		return nil, err
	default:
		p.opts.metrics.recordBreakerRequest(ctx, p.name, "success")
		return nil, err
	}
}
