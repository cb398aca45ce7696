package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingFactory appends "<name>.before" and "<name>.after" to a shared log.
type recordingFactory struct {
	name string
	mu   *sync.Mutex
	log  *[]string
}

func (f recordingFactory) Create(next Policy, _ *Options) Policy {
	return PolicyFunc(func(ctx context.Context, req *Request) (*Response, error) {
		f.append(f.name + ".before")
		resp, err := next.Send(ctx, req)
		f.append(f.name + ".after")
		return resp, err
	})
}

func (f recordingFactory) append(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.log = append(*f.log, s)
}

func TestBuild_Ordering(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)

	mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
	mock.OnRequest(func(context.Context, *Request) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, "transport")
	})

	p := New(mock, []Factory{
		recordingFactory{name: "A", mu: &mu, log: &log},
		recordingFactory{name: "B", mu: &mu, log: &log},
	})

	resp, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
	require.NoError(t, err)
	defer resp.Close()

	assert.Equal(t, []string{"A.before", "B.before", "transport", "B.after", "A.after"}, log)
}

func TestBuild_EmptyChain(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusNoContent, "")

	p := New(mock, nil)
	resp, err := p.Send(context.Background(), NewRequest(http.MethodDelete, "http://example.com/c1"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, mock.RequestCount())
	require.NotNil(t, resp.Request)
	assert.Equal(t, "http://example.com/c1", resp.Request.URL)
}

func TestBuild_SkipsNilFactories(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")

	p := New(mock, []Factory{nil, UserAgentFactory{UserAgent: "ua"}, nil})
	_, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
	require.NoError(t, err)

	assert.Equal(t, "ua", mock.LastRequest().Header.Get("User-Agent"))
}

func TestBuild_FreshPolicyPerChain(t *testing.T) {
	var created int
	factory := FactoryFunc(func(next Policy, _ *Options) Policy {
		created++
		return next
	})

	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	Build(mock, []Factory{factory}, nil)
	Build(mock, []Factory{factory}, nil)

	assert.Equal(t, 2, created)
}

func TestPipeline_Send(t *testing.T) {
	tests := []struct {
		name      string
		transport Transport
		req       *Request
		wantErr   error
		wantTE    bool
	}{
		{
			name:      "given nil request, then returns ErrNilRequest",
			transport: NewMockTransport().StubResponse(http.StatusOK, ""),
			req:       nil,
			wantErr:   ErrNilRequest,
		},
		{
			name:      "given nil transport, then returns ErrNilTransport",
			transport: nil,
			req:       NewRequest(http.MethodGet, "http://example.com/"),
			wantErr:   ErrNilTransport,
		},
		{
			name:      "given transport error, then wraps it in TransportError",
			transport: NewMockTransport().StubError(errors.New("connection refused")),
			req:       NewRequest(http.MethodGet, "http://example.com/"),
			wantTE:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.transport, nil)
			resp, err := p.Send(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, resp)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantTE {
				var te *TransportError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, http.MethodGet, te.Method)
				assert.Equal(t, "http://example.com/", te.URL)
			}
		})
	}
}

func TestPipeline_Send_CancelledContext(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	p := New(mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, NewRequest(http.MethodGet, "http://example.com/"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsTransportError(err))
	assert.Equal(t, 0, mock.RequestCount())
}

func TestPipeline_Concurrent(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
	p := New(mock, []Factory{
		RequestIDFactory{},
		NewPortFactory(8080),
		RetryFactory{Config: DefaultRetryConfig()},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/c1"))
			if assert.NoError(t, err) {
				_ = resp.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, mock.RequestCount())
	ids := make(map[string]bool)
	for _, r := range mock.Requests() {
		assert.Equal(t, "http://example.com:8080/c1", r.URL)
		ids[r.Header.Get(RequestIDHeader)] = true
	}
	assert.Len(t, ids, 20)
}

func TestPipeline_SendAsync(t *testing.T) {
	t.Run("given successful call, then Await returns response", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(http.StatusOK, "hello")
		p := New(mock, nil)

		f := p.SendAsync(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
		resp, err := f.Await(context.Background())
		require.NoError(t, err)

		body, err := resp.String()
		require.NoError(t, err)
		assert.Equal(t, "hello", body)

		select {
		case <-f.Done():
		default:
			t.Fatal("Done should be closed after completion")
		}
	})

	t.Run("given Cancel on in-flight call, then result is context.Canceled", func(t *testing.T) {
		started := make(chan struct{})
		mock := NewMockTransport().StubResponse(http.StatusOK, "")
		mock.OnRequest(func(ctx context.Context, _ *Request) {
			close(started)
			<-ctx.Done()
		})

		p := New(mock, []Factory{
			RetryFactory{Config: DefaultRetryConfig()},
			TimeoutFactory{Timeout: time.Minute},
		})

		f := p.SendAsync(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
		<-started
		f.Cancel()

		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		resp, err := f.Await(waitCtx)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, mock.RequestCount(), "cancellation must not be retried")
	})

	t.Run("given Await context expires, then returns its error without cancelling call", func(t *testing.T) {
		release := make(chan struct{})
		mock := NewMockTransport().StubResponse(http.StatusOK, "late")
		mock.OnRequest(func(context.Context, *Request) { <-release })

		p := New(mock, nil)
		f := p.SendAsync(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))

		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := f.Await(waitCtx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		resp, err := f.Await(context.Background())
		require.NoError(t, err)
		body, _ := resp.String()
		assert.Equal(t, "late", body)
	})
}

func TestGo(t *testing.T) {
	t.Run("given response closed before return, then context is released", func(t *testing.T) {
		var callCtx context.Context
		f := Go(context.Background(), func(ctx context.Context) (*Response, error) {
			callCtx = ctx
			resp := NewResponse(nil, http.StatusOK, nil, nil)
			_, err := resp.Bytes()
			return resp, err
		})

		_, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.ErrorIs(t, callCtx.Err(), context.Canceled)
	})

	t.Run("given open response, then context lives until Close", func(t *testing.T) {
		var callCtx context.Context
		f := Go(context.Background(), func(ctx context.Context) (*Response, error) {
			callCtx = ctx
			return NewResponse(nil, http.StatusOK, nil, nil), nil
		})

		resp, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.NoError(t, callCtx.Err())

		require.NoError(t, resp.Close())
		assert.ErrorIs(t, callCtx.Err(), context.Canceled)
	})

	t.Run("given error, then context is released", func(t *testing.T) {
		var callCtx context.Context
		f := Go(context.Background(), func(ctx context.Context) (*Response, error) {
			callCtx = ctx
			return nil, errors.New("boom")
		})

		_, err := f.Await(context.Background())
		require.EqualError(t, err, "boom")
		assert.ErrorIs(t, callCtx.Err(), context.Canceled)
	})
}
