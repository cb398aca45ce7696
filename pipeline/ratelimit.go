package pipeline

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request is rejected due to rate limiting.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig configures client-level rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the maximum sustained request rate.
	// Zero or negative disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Burst is the maximum number of requests allowed in a burst.
	// Values below 1 are treated as 1.
	Burst int `mapstructure:"burst"`

	// WaitOnLimit determines behavior when rate limit is hit.
	// If true, requests wait for a token (respecting context deadline).
	// If false, requests immediately return ErrRateLimited.
	WaitOnLimit bool `mapstructure:"wait_on_limit"`
}

// DefaultRateLimitConfig returns a sensible default rate limit configuration.
// 100 requests per second with a burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// RateLimiterStats provides visibility into rate limiter state.
type RateLimiterStats struct {
	Limit           float64
	Burst           int
	TokensAvailable float64
}

// RateLimitFactory creates policies that throttle the rest of the chain with
// a token bucket. One bucket is created per chain built.
type RateLimitFactory struct {
	Config RateLimitConfig
}

// Create implements Factory.
func (f RateLimitFactory) Create(next Policy, _ *Options) Policy {
	if f.Config.RequestsPerSecond <= 0 {
		return next
	}

	burst := f.Config.Burst
	if burst < 1 {
		burst = 1
	}

	return &rateLimitPolicy{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(f.Config.RequestsPerSecond), burst),
		wait:    f.Config.WaitOnLimit,
	}
}

type rateLimitPolicy struct {
	next    Policy
	limiter *rate.Limiter
	wait    bool
}

func (p *rateLimitPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	if p.wait {
		// Wait for token, respecting context deadline
		if err := p.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			// Wait fails without waiting when the deadline is too close.
			return nil, ErrRateLimited
		}
	} else if !p.limiter.Allow() {
		return nil, ErrRateLimited
	}

	return p.next.Send(ctx, req)
}

// Stats returns the limiter state.
func (p *rateLimitPolicy) Stats() RateLimiterStats {
	return RateLimiterStats{
		Limit:           float64(p.limiter.Limit()),
		Burst:           p.limiter.Burst(),
		TokensAvailable: p.limiter.Tokens(),
	}
}
