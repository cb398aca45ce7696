package pipeline

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time interface checks.
var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*MockTransport)(nil)
)

// TransportConfig holds the net/http transport settings. The values are
// forwarded to http.Transport as-is; pooling, DNS and protocol negotiation
// stay with net/http.
//
// Example:
//
//	cfg := pipeline.DefaultTransportConfig()
//	cfg.Timeout = 5 * time.Second
//	cfg.MaxIdleConnsPerHost = 50
//	transport := pipeline.NewHTTPTransport(cfg)
type TransportConfig struct {
	// Timeout limits the whole exchange including reading the body.
	// Zero means no timeout; prefer TimeoutFactory for per-call deadlines.
	//
	// Default: 0
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// MaxIdleConnsPerHost controls the maximum idle connections kept per host.
	//
	// Default: 20
	MaxIdleConnsPerHost int `mapstructure:"max_idle_conns_per_host"`

	// MaxConnsPerHost limits idle plus active connections per host.
	// Zero means unlimited.
	//
	// Default: 100
	MaxConnsPerHost int `mapstructure:"max_conns_per_host"`

	// IdleConnTimeout is how long an idle connection remains in the pool.
	//
	// Default: 90s
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout"`

	// TLSHandshakeTimeout is the maximum time to wait for a TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`

	// ResponseHeaderTimeout is the time to wait for response headers after
	// the request is written. Zero disables it.
	//
	// Default: 0
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`

	// ExpectContinueTimeout is how long to wait for "100 Continue".
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration `mapstructure:"expect_continue_timeout"`

	// DialTimeout is the maximum time to establish a TCP connection.
	//
	// Default: 5s
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration `mapstructure:"keep_alive"`

	// DisableKeepAlives forces a new connection for each request.
	//
	// Default: false
	DisableKeepAlives bool `mapstructure:"disable_keep_alives"`

	// DisableCompression disables transparent gzip.
	//
	// Default: true
	DisableCompression bool `mapstructure:"disable_compression"`

	// ForceHTTP2 enables HTTP/2 when a custom dialer or TLS config is set.
	//
	// Default: false
	ForceHTTP2 bool `mapstructure:"force_http2"`

	// EnableNetworkTrace adds DNS, connect, TLS and first-byte events to the
	// active span using httptrace.
	//
	// Default: true
	EnableNetworkTrace bool `mapstructure:"enable_network_trace"`

	// TLSConfig specifies the TLS configuration. Nil uses the default.
	TLSConfig *tls.Config `mapstructure:"-"`

	// ProxyURL specifies a proxy for all requests. Takes precedence over
	// ProxyFromEnvironment.
	ProxyURL *url.URL `mapstructure:"-"`

	// ProxyFromEnvironment uses HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
	//
	// Default: true
	ProxyFromEnvironment bool `mapstructure:"proxy_from_environment"`
}

// DefaultTransportConfig returns balanced settings for general use.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		// Connection pool tuning (balanced)
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		// TLS and protocol timeouts
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		// TCP dial settings
		DialTimeout: 5 * time.Second,
		KeepAlive:   30 * time.Second,

		DisableCompression:   true,
		EnableNetworkTrace:   true,
		ProxyFromEnvironment: true,
	}
}

// HighThroughputTransportConfig returns settings for many concurrent
// requests to the same hosts: larger pools and unlimited connections per host.
func HighThroughputTransportConfig() TransportConfig {
	cfg := DefaultTransportConfig()
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	return cfg
}

// LowLatencyTransportConfig returns settings that fail fast.
func LowLatencyTransportConfig() TransportConfig {
	cfg := DefaultTransportConfig()
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.ForceHTTP2 = true
	return cfg
}

// HTTPTransport adapts net/http to the Transport interface.
type HTTPTransport struct {
	client       *http.Client
	networkTrace bool
}

// NewHTTPTransport creates a transport backed by a new http.Transport built
// from cfg.
func NewHTTPTransport(cfg TransportConfig) *HTTPTransport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	base := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		DisableCompression:    cfg.DisableCompression,
		TLSClientConfig:       cfg.TLSConfig,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}

	// Configure proxy
	if cfg.ProxyURL != nil {
		base.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else if cfg.ProxyFromEnvironment {
		base.Proxy = http.ProxyFromEnvironment
	}

	return &HTTPTransport{
		client:       &http.Client{Transport: base, Timeout: cfg.Timeout},
		networkTrace: cfg.EnableNetworkTrace,
	}
}

// NewHTTPTransportFromClient wraps an existing client. Redirect and cookie
// handling follow the client's configuration.
func NewHTTPTransportFromClient(c *http.Client) *HTTPTransport {
	if c == nil {
		c = http.DefaultClient
	}
	return &HTTPTransport{client: c}
}

// NewHTTPTransportFromRoundTripper wraps a bare round tripper.
func NewHTTPTransportFromRoundTripper(rt RoundTripper) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Transport: rt}}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	var nt *networkTrace
	if t.networkTrace {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			nt = &networkTrace{}
			ctx = httptrace.WithClientTrace(ctx, nt.clientTrace())
			defer nt.addEvents(span)
		}
	}

	httpReq, err := req.toHTTP(ctx)
	if err != nil {
		return nil, err
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	resp := NewResponse(req, httpResp.StatusCode, httpResp.Header, httpResp.Body)
	resp.ContentLength = httpResp.ContentLength
	return resp, nil
}

// PoolStats is a snapshot of the connection pool configuration.
type PoolStats struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
}

// PoolStats returns the pool configuration of the underlying http.Transport,
// or the zero value when the client does not use one.
func (t *HTTPTransport) PoolStats() PoolStats {
	base, ok := t.client.Transport.(*http.Transport)
	if !ok || base == nil {
		return PoolStats{}
	}
	return PoolStats{
		MaxIdleConns:        base.MaxIdleConns,
		MaxIdleConnsPerHost: base.MaxIdleConnsPerHost,
		MaxConnsPerHost:     base.MaxConnsPerHost,
		IdleConnTimeout:     base.IdleConnTimeout,
		DisableKeepAlives:   base.DisableKeepAlives,
	}
}

// networkTrace holds timing data collected from httptrace.ClientTrace.
// Callbacks may fire from transport goroutines, but only before RoundTrip
// returns, which is when events are read.
type networkTrace struct {
	dnsStart, dnsDone         time.Time
	connectStart, connectDone time.Time
	tlsStart, tlsDone         time.Time
	gotConn, firstByte        time.Time

	connReused bool
	remoteAddr string
}

func (nt *networkTrace) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			nt.gotConn = time.Now()
			nt.connReused = info.Reused
			if info.Conn != nil && info.Conn.RemoteAddr() != nil {
				nt.remoteAddr = info.Conn.RemoteAddr().String()
			}
		},
		DNSStart:             func(httptrace.DNSStartInfo) { nt.dnsStart = time.Now() },
		DNSDone:              func(httptrace.DNSDoneInfo) { nt.dnsDone = time.Now() },
		ConnectStart:         func(_, _ string) { nt.connectStart = time.Now() },
		ConnectDone:          func(_, _ string, _ error) { nt.connectDone = time.Now() },
		TLSHandshakeStart:    func() { nt.tlsStart = time.Now() },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { nt.tlsDone = time.Now() },
		GotFirstResponseByte: func() { nt.firstByte = time.Now() },
	}
}

func (nt *networkTrace) addEvents(span trace.Span) {
	if !nt.dnsStart.IsZero() && !nt.dnsDone.IsZero() {
		span.AddEvent("dns.done", trace.WithTimestamp(nt.dnsDone),
			trace.WithAttributes(attribute.Int64("dns.duration_ms", nt.dnsDone.Sub(nt.dnsStart).Milliseconds())))
	}
	if !nt.connectStart.IsZero() && !nt.connectDone.IsZero() {
		span.AddEvent("connect.done", trace.WithTimestamp(nt.connectDone),
			trace.WithAttributes(attribute.Int64("connect.duration_ms", nt.connectDone.Sub(nt.connectStart).Milliseconds())))
	}
	if !nt.tlsStart.IsZero() && !nt.tlsDone.IsZero() {
		span.AddEvent("tls.done", trace.WithTimestamp(nt.tlsDone),
			trace.WithAttributes(attribute.Int64("tls.duration_ms", nt.tlsDone.Sub(nt.tlsStart).Milliseconds())))
	}
	if !nt.gotConn.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConn),
			trace.WithAttributes(
				attribute.Bool("connection.reused", nt.connReused),
				attribute.String("network.peer.address", nt.remoteAddr),
			))
	}
	if !nt.firstByte.IsZero() {
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.firstByte))
	}
}
