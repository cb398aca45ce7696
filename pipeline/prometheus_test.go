package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := NewPrometheusFactory(reg, "blob")
	require.NoError(t, err)

	ok := New(NewMockTransport().StubResponse(http.StatusOK, ""), []Factory{prom})
	failing := New(NewMockTransport().StubError(errors.New("connection refused")), []Factory{prom})

	for i := 0; i < 2; i++ {
		_, err := ok.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
		require.NoError(t, err)
	}
	_, err = failing.Send(context.Background(), NewRequest(http.MethodPut, "http://example.com/"))
	require.Error(t, err)

	assert.InDelta(t, 2, testutil.ToFloat64(prom.requests.WithLabelValues("GET", "200")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(prom.requests.WithLabelValues("PUT", "error")), 0.001)
	assert.InDelta(t, 0, testutil.ToFloat64(prom.inFlight), 0.001)
	assert.Equal(t, 2, testutil.CollectAndCount(prom.duration))
}

func TestNewPrometheusFactory_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewPrometheusFactory(reg, "blob")
	require.NoError(t, err)
	second, err := NewPrometheusFactory(reg, "blob")
	require.NoError(t, err)

	assert.Same(t, first.requests, second.requests)
}

func TestPrometheusHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := NewPrometheusFactory(reg, "blob")
	require.NoError(t, err)

	p := New(NewMockTransport().StubResponse(http.StatusOK, ""), []Factory{prom})
	_, err = p.Send(context.Background(), NewRequest(http.MethodGet, "http://example.com/"))
	require.NoError(t, err)

	srv := httptest.NewServer(PrometheusHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `blob_client_requests_total{code="200",method="GET"} 1`))
}
