package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/kroma-labs/restpipe/urlbuilder"
)

// Request is the transport-independent representation of an outgoing HTTP
// request.
//
// A Request is owned by exactly one in-flight call. Policies may mutate it
// before delegating; once it reaches the Transport it must not be modified.
// Policies that send the same request more than once (retry) send Clones.
//
// Header keys are case-insensitive: Header.Set canonicalizes the name and
// replaces any previous value, so the last write wins.
type Request struct {
	// Method is the HTTP verb, e.g. http.MethodGet.
	Method string

	// URL is the absolute request URL. Use ParsedURL/SetURL for structured
	// access.
	URL string

	// Header holds the request headers.
	Header http.Header

	// body is the buffered payload; stream is a one-shot payload that has
	// not been buffered yet. At most one of them is set.
	body   []byte
	stream io.Reader
}

// NewRequest creates a request with an empty header set and no body.
func NewRequest(method, rawURL string) *Request {
	return &Request{
		Method: method,
		URL:    rawURL,
		Header: make(http.Header),
	}
}

// ParsedURL parses the request URL.
func (r *Request) ParsedURL() (urlbuilder.URL, error) {
	return urlbuilder.Parse(r.URL)
}

// SetURL replaces the request URL with the canonical form of u.
func (r *Request) SetURL(u urlbuilder.URL) {
	r.URL = u.String()
}

// SetBody sets a buffered body. A nil slice removes the body.
func (r *Request) SetBody(body []byte) {
	r.body = body
	r.stream = nil
}

// SetBodyStream sets a streaming body. The stream is read at most once; call
// Bytes to buffer it when the request may be replayed.
func (r *Request) SetBodyStream(body io.Reader) {
	r.body = nil
	r.stream = body
}

// HasBody reports whether a body is attached.
func (r *Request) HasBody() bool {
	return r.body != nil || r.stream != nil
}

// ContentLength returns the body length, or -1 when it is an unbuffered
// stream and 0 when there is no body.
func (r *Request) ContentLength() int64 {
	if r.stream != nil {
		return -1
	}
	return int64(len(r.body))
}

// BodyReader returns a reader over the body. Buffered bodies return a fresh
// reader on each call; a stream is returned as-is.
func (r *Request) BodyReader() io.Reader {
	if r.stream != nil {
		return r.stream
	}
	if r.body == nil {
		return nil
	}
	return bytes.NewReader(r.body)
}

// Bytes buffers a streaming body and returns the payload. Subsequent calls
// return the buffered bytes.
func (r *Request) Bytes() ([]byte, error) {
	if r.stream == nil {
		return r.body, nil
	}

	data, err := io.ReadAll(r.stream)
	if closer, ok := r.stream.(io.Closer); ok {
		closer.Close()
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}

	r.body = data
	r.stream = nil
	return r.body, nil
}

// Clone returns a deep copy of the request. A streaming body is shared, so
// buffer it with Bytes first if both copies will be sent.
func (r *Request) Clone() *Request {
	c := &Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
		stream: r.stream,
	}
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.body != nil {
		c.body = append([]byte{}, r.body...)
	}
	return c
}

// toHTTP converts the request into a *http.Request bound to ctx.
func (r *Request) toHTTP(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, r.BodyReader())
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if r.stream == nil && r.body != nil {
		req.ContentLength = int64(len(r.body))
	}
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
	}
	return req, nil
}
