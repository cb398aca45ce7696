package pipeline

import (
	"time"
)

// RetryConfig holds the retry behavior configuration.
// Use DefaultRetryConfig() for balanced defaults, then modify as needed.
//
// The retry policy uses exponential backoff with jitter so that many clients
// retrying at once do not synchronize.
//
// Example usage:
//
//	cfg := pipeline.DefaultRetryConfig()
//	cfg.MaxRetries = 5
//	cfg.InitialInterval = 200 * time.Millisecond
//	factory := pipeline.RetryFactory{Config: cfg}
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Set to 0 to disable retries entirely.
	// The initial request is not counted as a retry.
	// Default: 3
	MaxRetries uint `mapstructure:"max_retries"`

	// InitialInterval is the first backoff interval.
	// Default: 500ms
	InitialInterval time.Duration `mapstructure:"initial_interval"`

	// MaxInterval caps the backoff interval.
	// Default: 30s
	MaxInterval time.Duration `mapstructure:"max_interval"`

	// MaxElapsedTime is the total time budget for the call including waits.
	// A retry whose wait would cross the budget is not attempted.
	// Set to 0 for no time limit (only MaxRetries applies).
	// Default: 2m
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`

	// Multiplier controls exponential growth of backoff intervals.
	// Default: 2.0
	//
	// Example with InitialInterval=500ms, Multiplier=2.0:
	//   Retry 1: 500ms → Retry 2: 1s → Retry 3: 2s
	Multiplier float64 `mapstructure:"multiplier"`

	// JitterFactor randomizes each interval by ±factor.
	// Default: 0.5
	JitterFactor float64 `mapstructure:"jitter_factor"`

	// StatusCodes overrides the retryable status codes.
	// Default: 408, 429, 502, 503, 504
	StatusCodes []int `mapstructure:"status_codes"`

	// RespectRetryAfter uses the server's Retry-After hint instead of the
	// computed backoff when present.
	// Default: true
	RespectRetryAfter bool `mapstructure:"respect_retry_after"`
}

// Default values for RetryConfig.
const (
	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// DefaultInitialInterval is the default starting backoff interval.
	DefaultInitialInterval = 500 * time.Millisecond

	// DefaultMaxInterval is the default maximum backoff interval.
	DefaultMaxInterval = 30 * time.Second

	// DefaultMaxElapsedTime is the default total retry time budget.
	DefaultMaxElapsedTime = 2 * time.Minute

	// DefaultMultiplier is the default backoff multiplier.
	DefaultMultiplier = 2.0

	// DefaultJitterFactor is the default randomization factor.
	DefaultJitterFactor = 0.5
)

// DefaultRetryConfig returns balanced defaults for general use.
//
// Configuration:
//   - 3 retries with exponential backoff (500ms → 1s → 2s)
//   - 2 minute total time budget
//   - 50% jitter
//   - 30s maximum interval cap
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialInterval:   DefaultInitialInterval,
		MaxInterval:       DefaultMaxInterval,
		MaxElapsedTime:    DefaultMaxElapsedTime,
		Multiplier:        DefaultMultiplier,
		JitterFactor:      DefaultJitterFactor,
		RespectRetryAfter: true,
	}
}

// AggressiveRetryConfig returns configuration for idempotent calls that must
// succeed: 5 retries from 200ms, 5 minute budget, 60s cap.
func AggressiveRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialInterval:   200 * time.Millisecond,
		MaxInterval:       60 * time.Second,
		MaxElapsedTime:    5 * time.Minute,
		Multiplier:        2.0,
		JitterFactor:      0.5,
		RespectRetryAfter: true,
	}
}

// ConservativeRetryConfig returns configuration for expensive or rate-limited
// services: 2 retries from 1s, 30 second budget, 10s cap.
func ConservativeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialInterval:   1 * time.Second,
		MaxInterval:       10 * time.Second,
		MaxElapsedTime:    30 * time.Second,
		Multiplier:        2.0,
		JitterFactor:      0.5,
		RespectRetryAfter: true,
	}
}

// NoRetryConfig returns configuration that disables retries entirely.
func NoRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   0,
		JitterFactor: -1, // Sentinel to distinguish from uninitialized config
	}
}

// IsEnabled returns true if retries are enabled.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}
