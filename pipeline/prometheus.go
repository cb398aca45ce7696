package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusFactory creates policies that record request metrics with
// Prometheus collectors, for deployments that scrape instead of exporting
// OpenTelemetry metrics.
//
// Collectors:
//   - <namespace>_client_requests_total{method, code}
//   - <namespace>_client_request_duration_seconds{method}
//   - <namespace>_client_requests_in_flight
//
// Failed exchanges are counted with code="error".
type PrometheusFactory struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewPrometheusFactory registers the collectors on reg. Registering twice on
// the same registry reuses the existing collectors.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	prom, err := pipeline.NewPrometheusFactory(reg, "blob")
//	if err != nil {
//	    return err
//	}
//	mux.Handle("/metrics", pipeline.PrometheusHandler(reg))
func NewPrometheusFactory(reg prometheus.Registerer, namespace string) (*PrometheusFactory, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Total number of outbound HTTP requests.",
	}, []string{"method", "code"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Duration of outbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "requests_in_flight",
		Help:      "Number of outbound HTTP requests in flight.",
	})

	var err error
	if requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if inFlight, err = register(reg, inFlight); err != nil {
		return nil, err
	}

	return &PrometheusFactory{
		requests: requests,
		duration: duration,
		inFlight: inFlight,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Create implements Factory.
func (f *PrometheusFactory) Create(next Policy, _ *Options) Policy {
	return &prometheusPolicy{next: next, f: f}
}

type prometheusPolicy struct {
	next Policy
	f    *PrometheusFactory
}

func (p *prometheusPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	p.f.inFlight.Inc()
	defer p.f.inFlight.Dec()

	start := time.Now()
	resp, err := p.next.Send(ctx, req)
	p.f.duration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	p.f.requests.WithLabelValues(req.Method, code).Inc()

	return resp, err
}

// PrometheusHandler returns an http.Handler serving the metrics gathered by g
// in the Prometheus text format.
//
// Example:
//
//	mux.Handle("/metrics", pipeline.PrometheusHandler(reg))
func PrometheusHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
