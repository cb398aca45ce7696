package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name      string
		a, b      *Request
		wantEqual bool
	}{
		{
			name:      "given reordered query, then same key",
			a:         NewRequest(http.MethodGet, "http://example.com/c1?a=1&b=2"),
			b:         NewRequest(http.MethodGet, "http://example.com/c1?b=2&a=1"),
			wantEqual: true,
		},
		{
			name:      "given different path, then different key",
			a:         NewRequest(http.MethodGet, "http://example.com/c1"),
			b:         NewRequest(http.MethodGet, "http://example.com/c2"),
			wantEqual: false,
		},
		{
			name:      "given different method, then different key",
			a:         NewRequest(http.MethodGet, "http://example.com/c1"),
			b:         NewRequest(http.MethodHead, "http://example.com/c1"),
			wantEqual: false,
		},
		{
			name: "given different authorization, then different key",
			a: func() *Request {
				r := NewRequest(http.MethodGet, "http://example.com/c1")
				r.Header.Set("Authorization", "Bearer a")
				return r
			}(),
			b: func() *Request {
				r := NewRequest(http.MethodGet, "http://example.com/c1")
				r.Header.Set("Authorization", "Bearer b")
				return r
			}(),
			wantEqual: false,
		},
		{
			name:      "given different vary header, then different key",
			a:         withHeader(NewRequest(http.MethodGet, "http://example.com/c1"), "X-Ms-Version", "2020-10-02"),
			b:         withHeader(NewRequest(http.MethodGet, "http://example.com/c1"), "X-Ms-Version", "2021-08-06"),
			wantEqual: false,
		},
		{
			name:      "given different header outside vary list, then same key",
			a:         withHeader(NewRequest(http.MethodGet, "http://example.com/c1"), "X-Trace", "a"),
			b:         withHeader(NewRequest(http.MethodGet, "http://example.com/c1"), "X-Trace", "b"),
			wantEqual: true,
		},
	}

	vary := []string{"Accept", "X-Ms-Version"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantEqual, cacheKey(tt.a, vary) == cacheKey(tt.b, vary))
		})
	}
}

func withHeader(req *Request, key, value string) *Request {
	req.Header.Set(key, value)
	return req
}

func TestCachePolicy_Bypass(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		values    [2]string
		wantCalls int
	}{
		{name: "given range requests, then each reaches the transport", header: "Range", values: [2]string{"bytes=0-9", "bytes=10-19"}, wantCalls: 2},
		{name: "given conditional requests, then each reaches the transport", header: "If-None-Match", values: [2]string{`"v1"`, `"v1"`}, wantCalls: 2},
		{name: "given different accept, then separate entries", header: "Accept", values: [2]string{"application/json", "application/xml"}, wantCalls: 2},
		{name: "given same accept, then one entry", header: "Accept", values: [2]string{"application/json", "application/json"}, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubResponse(http.StatusOK, "data")
			p := New(mock, []Factory{CacheFactory{Store: NewMemoryCacheStore()}})

			for _, v := range tt.values {
				req := withHeader(NewRequest(http.MethodGet, "http://example.com/c1/b1"), tt.header, v)
				resp, err := p.Send(context.Background(), req)
				require.NoError(t, err)
				require.NoError(t, resp.Close())
			}
			assert.Equal(t, tt.wantCalls, mock.RequestCount())
		})
	}
}

func TestCachePolicy_CustomVaryHeaders(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "data")
	p := New(mock, []Factory{CacheFactory{Store: NewMemoryCacheStore(), VaryHeaders: []string{"x-ms-version"}}})

	for _, version := range []string{"2020-10-02", "2021-08-06", "2020-10-02"} {
		req := withHeader(NewRequest(http.MethodGet, "http://example.com/c1"), "x-ms-version", version)
		_, err := p.Send(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, mock.RequestCount())
}

func TestCachePolicy_CoalescedCallersAreIndependent(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	next := PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return NewResponse(req, http.StatusOK, nil, nil), nil
	})
	policy := CacheFactory{}.Create(next, NewOptions())

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := policy.Send(leaderCtx, NewRequest(http.MethodGet, "http://example.com/c1"))
		leaderErr <- err
	}()
	<-entered

	followerResp := make(chan *Response, 1)
	followerErr := make(chan error, 1)
	go func() {
		resp, err := policy.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/c1"))
		followerResp <- resp
		followerErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	err := <-leaderErr
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-followerErr)
	assert.Equal(t, http.StatusOK, (<-followerResp).StatusCode)
}

func TestMemoryCacheStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCacheStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	store := NewRedisCacheStore(rdb, "restpipe:cache:")

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("restpipe:cache:k"))

	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachePolicy(t *testing.T) {
	stores := map[string]func(t *testing.T) CacheStore{
		"memory": func(*testing.T) CacheStore { return NewMemoryCacheStore() },
		"redis": func(t *testing.T) CacheStore {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisCacheStore(rdb, "test:")
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("given repeated GET, then second is served from store", func(t *testing.T) {
				mock := NewMockTransport().StubFuncWithHeader(
					func(*Request) bool { return true },
					http.StatusOK,
					http.Header{"Content-Type": []string{"application/json"}},
					`{"ok":true}`,
				)
				p := New(mock, []Factory{CacheFactory{Store: newStore(t), TTL: time.Minute}})

				for i := 0; i < 2; i++ {
					resp, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/c1"))
					require.NoError(t, err)
					body, err := resp.String()
					require.NoError(t, err)
					assert.Equal(t, `{"ok":true}`, body)
					assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
				}
				assert.Equal(t, 1, mock.RequestCount())
			})

			t.Run("given error status, then it is not stored", func(t *testing.T) {
				mock := NewMockTransport().StubResponse(http.StatusNotFound, "missing")
				p := New(mock, []Factory{CacheFactory{Store: newStore(t)}})

				for i := 0; i < 2; i++ {
					resp, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/c1"))
					require.NoError(t, err)
					assert.Equal(t, http.StatusNotFound, resp.StatusCode)
				}
				assert.Equal(t, 2, mock.RequestCount())
			})

			t.Run("given non-GET, then it bypasses the cache", func(t *testing.T) {
				mock := NewMockTransport().StubResponse(http.StatusCreated, "")
				p := New(mock, []Factory{CacheFactory{Store: newStore(t)}})

				for i := 0; i < 2; i++ {
					_, err := p.Send(context.Background(), NewRequest(http.MethodPut, "http://example.com/c1"))
					require.NoError(t, err)
				}
				assert.Equal(t, 2, mock.RequestCount())
			})
		})
	}
}

func TestCachePolicy_Coalesces(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	next := PolicyFunc(func(_ context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return NewResponse(req, http.StatusOK, nil, nil), nil
	})

	policy := CacheFactory{}.Create(next, NewOptions())

	const callers = 5
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			resp, err := policy.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/c1"))
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
		}()
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, int(atomic.LoadInt32(&calls)), callers)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}

func TestCachePolicy_StoreFailureFallsThrough(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
	p := New(mock, []Factory{CacheFactory{Store: failingStore{}}})

	resp, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/c1"))
	require.NoError(t, err)
	body, err := resp.String()
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
}
