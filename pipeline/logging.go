package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxBodyLogSize = 4 * 1024 // 4KB

// LoggingFactory creates policies that log every exchange with the Options
// logger.
//
// Successful exchanges are logged at debug level, 4xx responses at warn,
// and 5xx responses and errors at error level. Each event carries method,
// url, status, duration_ms and attempt (see AttemptFromContext).
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	p := pipeline.New(transport, []pipeline.Factory{
//	    pipeline.RetryFactory{Config: pipeline.DefaultRetryConfig()},
//	    pipeline.LoggingFactory{},
//	}, pipeline.WithLogger(logger))
type LoggingFactory struct {
	// LogRequestBody adds buffered request bodies to the event. Streaming
	// bodies are never read.
	LogRequestBody bool

	// MaxBodyLogSize limits the size of logged bodies (default: 4KB).
	MaxBodyLogSize int

	// LogCurl adds the request as a curl command (see Request.Curl).
	LogCurl bool

	// RequestIDHeader is logged as request_id.
	// Default: RequestIDHeader
	RequestIDHeader string
}

// Create implements Factory.
func (f LoggingFactory) Create(next Policy, opts *Options) Policy {
	if opts == nil {
		opts = NewOptions()
	}
	idHeader := f.RequestIDHeader
	if idHeader == "" {
		idHeader = RequestIDHeader
	}
	maxBody := f.MaxBodyLogSize
	if maxBody <= 0 {
		maxBody = defaultMaxBodyLogSize
	}
	return &loggingPolicy{
		next:     next,
		opts:     opts,
		logBody:  f.LogRequestBody,
		maxBody:  maxBody,
		logCurl:  f.LogCurl,
		idHeader: idHeader,
	}
}

type loggingPolicy struct {
	next     Policy
	opts     *Options
	logBody  bool
	maxBody  int
	logCurl  bool
	idHeader string
}

func (p *loggingPolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := p.next.Send(ctx, req)
	duration := time.Since(start)

	logger := p.opts.Logger

	var event *zerolog.Event
	switch {
	case err != nil:
		event = logger.Error().Err(err).Str("error_type", classifyError(err))
	case resp == nil:
		event = logger.Warn()
	case resp.StatusCode >= 500:
		event = logger.Error()
	case resp.StatusCode >= 400:
		event = logger.Warn()
	default:
		event = logger.Debug()
	}

	event = event.
		Str("method", req.Method).
		Str("url", req.URL).
		Int64("duration_ms", duration.Milliseconds()).
		Int("attempt", AttemptFromContext(ctx))

	if p.opts.ServiceName != "" {
		event = event.Str("service", p.opts.ServiceName)
	}
	if resp != nil {
		event = event.Int("status", resp.StatusCode)
	}
	if id := req.Header.Get(p.idHeader); id != "" {
		event = event.Str("request_id", id)
	}
	if p.logBody && req.stream == nil && len(req.body) > 0 {
		body := req.body
		if len(body) > p.maxBody {
			body = body[:p.maxBody]
		}
		event = event.Bytes("request_body", body)
	}

	if p.logCurl {
		event = event.Str("curl", req.Curl())
	}

	event.Msg("request completed")
	return resp, err
}
