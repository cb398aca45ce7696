package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
)

// MockTransport provides a configurable Transport for testing.
// It allows stubbing responses and verifying the requests that reached it.
//
// Example:
//
//	mock := pipeline.NewMockTransport().
//	    StubPath("/c1/b1", http.StatusOK, "hello").
//	    StubResponse(http.StatusNotFound, "")
//	p := pipeline.New(mock, factories)
type MockTransport struct {
	mu          sync.RWMutex
	stubs       []mockStub
	defaultStub *mockStub
	requests    []*Request
	requestHook func(context.Context, *Request)
}

type mockStub struct {
	matcher    func(*Request) bool
	statusCode int
	header     http.Header
	body       string
	err        error
}

// NewMockTransport creates a MockTransport with no stubs.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse stubs every unmatched request to return the given response.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{statusCode: statusCode, body: body}
	return m
}

// StubError stubs every unmatched request to return err.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &mockStub{err: err}
	return m
}

// StubPath stubs requests whose URL path equals path.
func (m *MockTransport) StubPath(path string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *Request) bool {
		u, err := req.ParsedURL()
		return err == nil && u.Path() == path
	}, statusCode, body)
}

// StubPathRegex stubs requests whose URL path matches pattern.
func (m *MockTransport) StubPathRegex(pattern string, statusCode int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *Request) bool {
		u, err := req.ParsedURL()
		return err == nil && re.MatchString(u.Path())
	}, statusCode, body)
}

// StubMethod stubs requests with the given method.
func (m *MockTransport) StubMethod(method string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *Request) bool {
		return req.Method == method
	}, statusCode, body)
}

// StubFunc stubs requests matching the predicate. Stubs are checked in the
// order they were added; the first match wins.
func (m *MockTransport) StubFunc(
	matcher func(*Request) bool,
	statusCode int,
	body string,
) *MockTransport {
	return m.addStub(mockStub{matcher: matcher, statusCode: statusCode, body: body})
}

// StubFuncWithHeader is StubFunc with response headers.
func (m *MockTransport) StubFuncWithHeader(
	matcher func(*Request) bool,
	statusCode int,
	header http.Header,
	body string,
) *MockTransport {
	return m.addStub(mockStub{matcher: matcher, statusCode: statusCode, header: header, body: body})
}

// StubFuncError stubs requests matching the predicate to fail with err.
func (m *MockTransport) StubFuncError(matcher func(*Request) bool, err error) *MockTransport {
	return m.addStub(mockStub{matcher: matcher, err: err})
}

func (m *MockTransport) addStub(s mockStub) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, s)
	return m
}

// OnRequest sets a hook called for each request before a stub is chosen.
// The hook may block on ctx to simulate a slow server.
func (m *MockTransport) OnRequest(fn func(ctx context.Context, req *Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// Send implements Transport.
func (m *MockTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	// Record a snapshot so later mutations by the caller are not observed.
	recorded := req.Clone()
	if _, err := recorded.Bytes(); err != nil {
		return nil, err
	}
	if req.stream != nil {
		req.SetBody(recorded.body)
	}

	m.mu.Lock()
	m.requests = append(m.requests, recorded)
	hook := m.requestHook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.stubs {
		if s.matcher(req) {
			return s.respond(req)
		}
	}
	if m.defaultStub != nil {
		return m.defaultStub.respond(req)
	}

	return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL)
}

func (s mockStub) respond(req *Request) (*Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	resp := NewResponse(req, s.statusCode, s.header.Clone(), io.NopCloser(strings.NewReader(s.body)))
	resp.ContentLength = int64(len(s.body))
	return resp, nil
}

// Requests returns all requests received, in order.
func (m *MockTransport) Requests() []*Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Request{}, m.requests...)
}

// RequestCount returns the number of requests received.
func (m *MockTransport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockTransport) LastRequest() *Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.stubs = nil
	m.defaultStub = nil
	m.requestHook = nil
}
