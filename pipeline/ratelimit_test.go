package pipeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	assert.InEpsilon(t, 100.0, cfg.RequestsPerSecond, 0.001)
	assert.Equal(t, 10, cfg.Burst)
	assert.True(t, cfg.WaitOnLimit)
}

func TestRateLimitPolicy(t *testing.T) {
	tests := []struct {
		name        string
		cfg         RateLimitConfig
		requests    int
		wantLimited int
	}{
		{
			name:        "given fail fast and burst of 2, then third request is rejected",
			cfg:         RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2, WaitOnLimit: false},
			requests:    3,
			wantLimited: 1,
		},
		{
			name:        "given zero burst, then burst of one is used",
			cfg:         RateLimitConfig{RequestsPerSecond: 0.001, Burst: 0, WaitOnLimit: false},
			requests:    2,
			wantLimited: 1,
		},
		{
			name:        "given disabled limiter, then nothing is rejected",
			cfg:         RateLimitConfig{},
			requests:    20,
			wantLimited: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubResponse(http.StatusOK, "")
			p := New(mock, []Factory{RateLimitFactory{Config: tt.cfg}})

			limited := 0
			for i := 0; i < tt.requests; i++ {
				_, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
				if err != nil {
					assert.ErrorIs(t, err, ErrRateLimited)
					limited++
				}
			}

			assert.Equal(t, tt.wantLimited, limited)
			assert.Equal(t, tt.requests-tt.wantLimited, mock.RequestCount())
		})
	}
}

func TestRateLimitPolicy_Wait(t *testing.T) {
	t.Run("given wait and available token soon, then request waits", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(http.StatusOK, "")
		p := New(mock, []Factory{RateLimitFactory{Config: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             1,
			WaitOnLimit:       true,
		}}})

		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
			require.NoError(t, err)
		}

		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
		assert.Equal(t, 3, mock.RequestCount())
	})

	t.Run("given wait beyond deadline, then returns ErrRateLimited", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(http.StatusOK, "")
		p := New(mock, []Factory{RateLimitFactory{Config: RateLimitConfig{
			RequestsPerSecond: 0.001,
			Burst:             1,
			WaitOnLimit:       true,
		}}})

		_, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = p.Send(ctx, NewRequest(http.MethodGet, "http://example.com/"))

		assert.ErrorIs(t, err, ErrRateLimited)
		assert.False(t, IsTransportError(err))
		assert.Equal(t, 1, mock.RequestCount())
	})

	t.Run("given cancelled context, then returns context error", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(http.StatusOK, "")
		p := New(mock, []Factory{RateLimitFactory{Config: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             1,
			WaitOnLimit:       true,
		}}})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Send(ctx, NewRequest(http.MethodGet, "http://example.com/"))

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRateLimitPolicy_Stats(t *testing.T) {
	next := PolicyFunc(func(_ context.Context, req *Request) (*Response, error) {
		return NewResponse(req, http.StatusOK, nil, nil), nil
	})

	policy := RateLimitFactory{Config: RateLimitConfig{RequestsPerSecond: 5, Burst: 3}}.Create(next, nil)
	rl, ok := policy.(*rateLimitPolicy)
	require.True(t, ok)

	stats := rl.Stats()
	assert.InEpsilon(t, 5.0, stats.Limit, 0.001)
	assert.Equal(t, 3, stats.Burst)
	assert.InDelta(t, 3.0, stats.TokensAvailable, 0.1)
}

func TestRateLimitPolicy_SharedPerChain(t *testing.T) {
	factory := RateLimitFactory{Config: RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}}

	a := New(NewMockTransport().StubResponse(http.StatusOK, ""), []Factory{factory})
	b := New(NewMockTransport().StubResponse(http.StatusOK, ""), []Factory{factory})

	_, err := a.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
	require.NoError(t, err)
	_, err = b.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
	require.NoError(t, err, "each chain has its own bucket")

	_, err = a.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
	assert.ErrorIs(t, err, ErrRateLimited)
}
