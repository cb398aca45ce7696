package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"
)

// ErrChaosInjected is the cause of failures injected by ChaosFactory.
var ErrChaosInjected = errors.New("chaos: simulated network error")

// ChaosConfig configures fault injection, used in development and tests to
// exercise retry and breaker settings against a misbehaving upstream.
type ChaosConfig struct {
	// Latency is added to every request.
	Latency time.Duration `mapstructure:"latency"`

	// LatencyJitter adds a random delay in [0, LatencyJitter) on top of Latency.
	LatencyJitter time.Duration `mapstructure:"latency_jitter"`

	// ErrorRate is the probability (0.0-1.0) of failing a request with a
	// simulated connection error.
	ErrorRate float64 `mapstructure:"error_rate"`

	// TimeoutRate is the probability (0.0-1.0) of holding a request until
	// its context is done.
	TimeoutRate float64 `mapstructure:"timeout_rate"`
}

// Enabled reports whether any fault is configured.
func (c ChaosConfig) Enabled() bool {
	return c.Latency > 0 || c.LatencyJitter > 0 || c.ErrorRate > 0 || c.TimeoutRate > 0
}

func (c ChaosConfig) delay() time.Duration {
	d := c.Latency
	if c.LatencyJitter > 0 {
		d += time.Duration(rand.Int64N(int64(c.LatencyJitter))) //nolint:gosec
	}
	return d
}

func chance(rate float64) bool {
	return rate > 0 && rand.Float64() < rate //nolint:gosec
}

// ChaosFactory creates policies that inject latency, connection errors and
// hangs in front of the rest of the chain.
//
// Injected errors are TransportErrors, so a RetryFactory placed before
// ChaosFactory retries them like real network failures.
type ChaosFactory struct {
	Config ChaosConfig
}

// Create implements Factory.
func (f ChaosFactory) Create(next Policy, _ *Options) Policy {
	if !f.Config.Enabled() {
		return next
	}
	cfg := f.Config

	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if chance(cfg.TimeoutRate) {
			<-ctx.Done()
			return nil, &TransportError{Method: req.Method, URL: req.URL, Err: ctx.Err()}
		}

		if chance(cfg.ErrorRate) {
			return nil, &TransportError{
				Method: req.Method,
				URL:    req.URL,
				Err:    &net.OpError{Op: "dial", Net: "tcp", Err: ErrChaosInjected},
			}
		}

		if d := cfg.delay(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, &TransportError{Method: req.Method, URL: req.URL, Err: ctx.Err()}
			}
		}

		return next.Send(ctx, req)
	})
}
