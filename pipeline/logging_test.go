package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestLoggingPolicy(t *testing.T) {
	tests := []struct {
		name      string
		transport *MockTransport
		wantLevel string
		wantCode  float64
		wantErr   bool
	}{
		{
			name:      "given 200, then logs at debug",
			transport: NewMockTransport().StubResponse(http.StatusOK, ""),
			wantLevel: "debug",
			wantCode:  200,
		},
		{
			name:      "given 404, then logs at warn",
			transport: NewMockTransport().StubResponse(http.StatusNotFound, ""),
			wantLevel: "warn",
			wantCode:  404,
		},
		{
			name:      "given 500, then logs at error",
			transport: NewMockTransport().StubResponse(http.StatusInternalServerError, ""),
			wantLevel: "error",
			wantCode:  500,
		},
		{
			name:      "given transport failure, then logs error without status",
			transport: NewMockTransport().StubError(errors.New("connection refused")),
			wantLevel: "error",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

			p := New(tt.transport, []Factory{LoggingFactory{}}, WithLogger(logger), WithServiceName("blob-client"))
			req := NewRequest(http.MethodGet, "http://example.com/c1")
			req.Header.Set(RequestIDHeader, "rid-1")
			_, _ = p.Send(context.Background(), req)

			lines := decodeLogLines(t, &buf)
			require.Len(t, lines, 1)
			line := lines[0]

			assert.Equal(t, tt.wantLevel, line["level"])
			assert.Equal(t, "GET", line["method"])
			assert.Equal(t, "http://example.com/c1", line["url"])
			assert.Equal(t, "blob-client", line["service"])
			assert.Equal(t, "rid-1", line["request_id"])
			assert.Equal(t, float64(1), line["attempt"])
			assert.Contains(t, line, "duration_ms")
			if tt.wantErr {
				assert.NotContains(t, line, "status")
				assert.Equal(t, ErrorTypeConnectionRefused, line["error_type"])
			} else {
				assert.Equal(t, tt.wantCode, line["status"])
			}
		})
	}
}

func TestLoggingPolicy_InsideRetry(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	p := New(NewMockTransport().StubResponse(http.StatusServiceUnavailable, ""), []Factory{
		RetryFactory{Config: fastRetryConfig(1)},
		LoggingFactory{},
	}, WithLogger(logger))

	_, err := p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
	require.NoError(t, err)

	var attempts []float64
	var retried bool
	for _, line := range decodeLogLines(t, &buf) {
		switch line["message"] {
		case "request completed":
			attempts = append(attempts, line["attempt"].(float64))
		case "retrying request":
			retried = true
		}
	}
	assert.Equal(t, []float64{1, 2}, attempts)
	assert.True(t, retried)
}

func TestLoggingPolicy_RequestBody(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	p := New(NewMockTransport().StubResponse(http.StatusOK, ""), []Factory{
		LoggingFactory{LogRequestBody: true, MaxBodyLogSize: 4},
	}, WithLogger(logger))

	req := NewRequest(http.MethodPut, "http://example.com/")
	req.SetBody([]byte("truncated"))
	_, err := p.Send(context.Background(), req)
	require.NoError(t, err)

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trun", lines[0]["request_body"])
}

func TestLoggingPolicy_Curl(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	p := New(NewMockTransport().StubResponse(http.StatusOK, ""), []Factory{
		LoggingFactory{LogCurl: true},
	}, WithLogger(logger))

	req := NewRequest(http.MethodDelete, "http://example.com/c1/b1")
	req.Header.Set("Authorization", "Bearer secret")
	_, err := p.Send(context.Background(), req)
	require.NoError(t, err)

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "curl -X DELETE 'http://example.com/c1/b1' -H 'Authorization: ***'", lines[0]["curl"])
}
