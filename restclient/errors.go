package restclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/kroma-labs/restpipe/binding"
	"github.com/kroma-labs/restpipe/pipeline"
	"github.com/kroma-labs/restpipe/urlbuilder"
)

// maxErrorBody bounds the response body kept on UnexpectedStatusError.
const maxErrorBody = 64 * 1024

// UnexpectedStatusError is returned by Call when the status code is not one
// of the method's expected codes. The body is buffered so the response can
// be inspected after the call.
type UnexpectedStatusError struct {
	Method     string
	StatusCode int
	Expected   []int
	Body       []byte
	Response   *pipeline.Response
}

func (e *UnexpectedStatusError) Error() string {
	expected := "2xx"
	if len(e.Expected) > 0 {
		expected = fmt.Sprint(e.Expected)
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("restclient: %s: unexpected status %d, want %s", e.Method, e.StatusCode, expected)
	}
	return fmt.Sprintf("restclient: %s: unexpected status %d, want %s: %s",
		e.Method, e.StatusCode, expected, truncate(e.Body, 512))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Kind is the failure category of a call.
type Kind int

// Failure kinds, from the earliest stage to the latest.
const (
	KindUnknown Kind = iota
	KindMalformedURL
	KindBinding
	KindCanceled
	KindTransport
	KindUnexpectedStatus
)

func (k Kind) String() string {
	switch k {
	case KindMalformedURL:
		return "malformed_url"
	case KindBinding:
		return "binding"
	case KindCanceled:
		return "canceled"
	case KindTransport:
		return "transport"
	case KindUnexpectedStatus:
		return "unexpected_status"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Cancellation and deadline expiry win over the
// transport failure that carries them.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var (
		malformed *urlbuilder.MalformedURLError
		bindErr   *binding.Error
		status    *UnexpectedStatusError
	)
	switch {
	case errors.As(err, &bindErr):
		return KindBinding
	case errors.As(err, &malformed):
		return KindMalformedURL
	case errors.As(err, &status):
		return KindUnexpectedStatus
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case pipeline.IsTransportError(err):
		return KindTransport
	default:
		return KindUnknown
	}
}
