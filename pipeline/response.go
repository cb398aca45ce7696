package pipeline

import (
	"io"
	"net/http"
	"sync"
)

// maxDrainBytes bounds how much of an unread body Close discards so the
// connection can be reused.
const maxDrainBytes = 64 * 1024

// Response is the transport-independent representation of an HTTP response.
//
// The body can be consumed exactly once, either as a stream via Stream or
// buffered via Bytes/String. Bytes caches the payload, so repeated calls are
// cheap; calling Stream after Bytes (or twice) returns ErrBodyConsumed.
//
// Example usage:
//
//	resp, err := p.Send(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer resp.Close()
//
//	if !resp.IsSuccess() {
//	    body, _ := resp.String()
//	    return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
//	}
type Response struct {
	// StatusCode is the HTTP status code, e.g. 200.
	StatusCode int

	// Header holds the response headers.
	Header http.Header

	// ContentLength is the declared body length, or -1 when unknown.
	ContentLength int64

	// Request is the request that produced this response. For retried calls
	// it is the clone sent on the final attempt.
	Request *Request

	body io.ReadCloser

	// taken is set once the stream has been handed out; data/read hold the
	// buffered payload.
	taken bool
	read  bool
	data  []byte

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// NewResponse creates a response. A nil header or body is replaced with an
// empty one.
func NewResponse(req *Request, statusCode int, header http.Header, body io.ReadCloser) *Response {
	if header == nil {
		header = make(http.Header)
	}
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		StatusCode:    statusCode,
		Header:        header,
		ContentLength: -1,
		Request:       req,
		body:          body,
	}
}

// Stream hands the body stream to the caller, who becomes responsible for
// closing it. It can be called once and not after Bytes.
func (r *Response) Stream() (io.ReadCloser, error) {
	if r.taken || r.read {
		return nil, ErrBodyConsumed
	}
	r.taken = true
	return r.body, nil
}

// Bytes reads the whole body, closes it and caches the result.
func (r *Response) Bytes() ([]byte, error) {
	if r.read {
		return r.data, nil
	}
	if r.taken {
		return nil, ErrBodyConsumed
	}

	data, err := io.ReadAll(r.body)
	closeErr := r.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}

	r.data = data
	r.read = true
	r.taken = true
	return r.data, nil
}

// String returns the body as a string.
func (r *Response) String() (string, error) {
	data, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close releases the body. An unread body is partially drained first so the
// underlying connection can be reused. Close is idempotent.
func (r *Response) Close() error {
	r.closeOnce.Do(func() {
		if !r.taken && !r.read {
			_, _ = io.Copy(io.Discard, io.LimitReader(r.body, maxDrainBytes))
		}
		r.closeErr = r.body.Close()
		r.closed = true
	})
	return r.closeErr
}

// IsSuccess reports whether the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError reports whether the status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// onClose runs fn once after the body is closed, whichever path closes it.
// fn runs immediately when the body is already closed.
func (r *Response) onClose(fn func()) {
	if r.closed {
		fn()
		return
	}
	r.body = &hookedBody{ReadCloser: r.body, hook: fn}
}

type hookedBody struct {
	io.ReadCloser
	once sync.Once
	hook func()
}

func (b *hookedBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.hook)
	return err
}
