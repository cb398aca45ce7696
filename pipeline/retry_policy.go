package pipeline

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// attemptKey is the context key for the current attempt number.
type attemptKey struct{}

// AttemptFromContext returns the 1-based attempt number set by the retry
// policy, or 1 outside of one.
func AttemptFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 1
}

// RetryFactory creates policies that re-send a request when the classifier
// reports a retryable outcome.
//
// Every attempt sends a fresh Clone of the request, so policies further down
// the chain never observe a previous attempt's mutations. A streaming body is
// buffered once before the first attempt. When retries are exhausted the last
// response (or error) is returned unchanged.
//
// Example:
//
//	pipeline.RetryFactory{
//	    Config:  pipeline.DefaultRetryConfig(),
//	    BackOff: func() backoff.BackOff { return pipeline.NewDecorrelatedJitterBackOff() },
//	}
type RetryFactory struct {
	// Config bounds the retries. A zero Config disables retrying.
	Config RetryConfig

	// Classifier decides which outcomes are retried.
	// Default: StatusCodeClassifier(Config.StatusCodes...) when set,
	// DefaultClassifier otherwise.
	Classifier RetryClassifier

	// BackOff returns the wait strategy for one call.
	// Default: ExponentialBackOffFromConfig(Config)
	BackOff BackOffFunc
}

// Create implements Factory.
func (f RetryFactory) Create(next Policy, opts *Options) Policy {
	if !f.Config.IsEnabled() {
		return next
	}
	if opts == nil {
		opts = NewOptions()
	}

	classifier := f.Classifier
	if classifier == nil {
		if len(f.Config.StatusCodes) > 0 {
			classifier = StatusCodeClassifier(f.Config.StatusCodes...)
		} else {
			classifier = DefaultClassifier
		}
	}

	cfg := f.Config
	newBackOff := f.BackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return ExponentialBackOffFromConfig(cfg) }
	}

	return &retryPolicy{
		next:       next,
		opts:       opts,
		cfg:        cfg,
		classifier: classifier,
		newBackOff: newBackOff,
	}
}

type retryPolicy struct {
	next       Policy
	opts       *Options
	cfg        RetryConfig
	classifier RetryClassifier
	newBackOff BackOffFunc
}

func (p *retryPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	// Buffer a streaming body so every attempt can replay it.
	if _, err := req.Bytes(); err != nil {
		return nil, err
	}

	b := p.newBackOff()
	b.Reset()

	var (
		span      = trace.SpanFromContext(ctx)
		attrs     = p.opts.baseAttributes()
		logger    = p.opts.Logger
		startTime = time.Now()
		retries   int
	)

	defer func() {
		p.opts.metrics.recordRetryDuration(ctx, attrs, time.Since(startTime))
		if retries > 0 && span.IsRecording() {
			span.SetAttributes(attribute.Int("http.retry_count", retries))
		}
	}()

	for attempt := 1; ; attempt++ {
		attemptCtx := context.WithValue(ctx, attemptKey{}, attempt)
		resp, err := p.next.Send(attemptCtx, req.Clone())

		if !p.classifier(resp, err) {
			return resp, err
		}

		if ctx.Err() != nil {
			return resp, err
		}
		if uint(retries) >= p.cfg.MaxRetries {
			p.opts.metrics.recordRetryExhausted(ctx, attrs)
			return resp, err
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			p.opts.metrics.recordRetryExhausted(ctx, attrs)
			return resp, err
		}
		if p.cfg.RespectRetryAfter {
			if hint, ok := retryAfter(resp, time.Now()); ok {
				delay = hint
			}
		}
		if p.cfg.MaxElapsedTime > 0 && time.Since(startTime)+delay > p.cfg.MaxElapsedTime {
			p.opts.metrics.recordRetryExhausted(ctx, attrs)
			return resp, err
		}

		reason := retryReason(resp, err)
		discard(resp)

		retries++
		recordRetryEvent(span, retries, reason, delay)
		p.opts.metrics.recordRetryAttempt(ctx, attrs, retries)
		logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Int("attempt", attempt).
			Str("reason", reason).
			Dur("delay", delay).
			Msg("retrying request")

		if err := sleep(ctx, delay); err != nil {
			return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
		}
	}
}

// retryAfter reads the server's retry hint: retry-after-ms, x-ms-retry-after-ms,
// then Retry-After as delta-seconds or an HTTP date.
func retryAfter(resp *Response, now time.Time) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}

	for _, h := range []string{"Retry-After-Ms", "X-Ms-Retry-After-Ms"} {
		if v := resp.Header.Get(h); v != "" {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
				return time.Duration(ms) * time.Millisecond, true
			}
		}
	}

	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func retryReason(resp *Response, err error) string {
	if err != nil {
		return classifyError(err)
	}
	if resp != nil {
		return strconv.Itoa(resp.StatusCode)
	}
	return ErrorTypeUnknown
}

// discard drains and closes a response that will not be returned.
func discard(resp *Response) {
	if resp == nil {
		return
	}
	if body, err := resp.Stream(); err == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
		_ = body.Close()
		return
	}
	_ = resp.Close()
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
