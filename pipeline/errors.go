package pipeline

import (
	"errors"
	"fmt"
)

// ErrBodyConsumed is returned when a response body is read after it has
// already been handed out or buffered.
var ErrBodyConsumed = errors.New("pipeline: response body already consumed")

// ErrNilRequest is returned by Pipeline.Send when called with a nil request.
var ErrNilRequest = errors.New("pipeline: nil request")

// ErrNilTransport is returned by the terminal policy when the pipeline was
// built without a transport.
var ErrNilTransport = errors.New("pipeline: nil transport")

// TransportError reports a failure of the transport to produce a response:
// connection refused, TLS failure, reset, cancellation while in flight.
//
// Cancellation propagates through Unwrap, so
// errors.Is(err, context.Canceled) holds for a cancelled call.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("pipeline: %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
