// Package urlbuilder provides a mutable-by-copy URL model used by the request
// pipeline and the binder.
//
// A URL keeps its path and query in wire (percent-encoded) form so that
// parsing and re-serializing never changes the bytes that reach the server:
//
//	u, err := urlbuilder.Parse("https://account.blob.core.windows.net/c1/b1?comp=metadata")
//	if err != nil {
//	    return err
//	}
//	u = u.WithPort(8443)
//	fmt.Println(u) // https://account.blob.core.windows.net:8443/c1/b1?comp=metadata
//
// The zero port state is explicit: Port returns ok=false when the URL carries
// no port at all, which is different from an explicit ":0".
package urlbuilder

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// MaxPort is the largest port number accepted by Parse. WithPort does not
// validate; callers that take ports from configuration check the range.
const MaxPort = 65535

// ErrMissingHost is wrapped by MalformedURLError when a URL has no host.
var ErrMissingHost = errors.New("missing host")

// ErrMissingScheme is wrapped by MalformedURLError when a URL has no scheme.
var ErrMissingScheme = errors.New("missing scheme")

// ErrInvalidPort is wrapped by MalformedURLError when a port is not a number
// in the range 0..65535.
var ErrInvalidPort = errors.New("invalid port")

// MalformedURLError reports a URL that could not be parsed or rewritten.
type MalformedURLError struct {
	// Raw is the input that failed.
	Raw string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *MalformedURLError) Error() string {
	return fmt.Sprintf("urlbuilder: malformed url %q: %v", e.Raw, e.Err)
}

// Unwrap returns the underlying cause.
func (e *MalformedURLError) Unwrap() error {
	return e.Err
}

// QueryParam is a single query pair in wire form.
type QueryParam struct {
	Name  string
	Value string
}

// URL is a structured absolute URL.
//
// URL is a value type. Every With* method returns a modified copy and never
// touches the receiver, so a URL can be handed between policies without
// aliasing.
type URL struct {
	scheme   string
	userInfo string
	host     string
	port     int
	hasPort  bool
	path     string
	query    []QueryParam
	fragment string
}

// Parse parses an absolute URL.
//
// The scheme and host are required. Path and query are kept exactly as they
// appear in raw. Query pairs keep their order; a pair without "=" gets an
// empty value.
func Parse(raw string) (URL, error) {
	if strings.TrimSpace(raw) == "" {
		return URL{}, &MalformedURLError{Raw: raw, Err: errors.New("empty url")}
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return URL{}, &MalformedURLError{Raw: raw, Err: err}
	}
	if parsed.Scheme == "" {
		return URL{}, &MalformedURLError{Raw: raw, Err: ErrMissingScheme}
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return URL{}, &MalformedURLError{Raw: raw, Err: ErrMissingHost}
	}

	u := URL{
		scheme:   strings.ToLower(parsed.Scheme),
		host:     parsed.Hostname(),
		path:     parsed.EscapedPath(),
		query:    splitQuery(parsed.RawQuery),
		fragment: parsed.EscapedFragment(),
	}
	if parsed.User != nil {
		u.userInfo = parsed.User.String()
	}

	if p := parsed.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 0 || port > MaxPort {
			return URL{}, &MalformedURLError{Raw: raw, Err: fmt.Errorf("%w: %q", ErrInvalidPort, p)}
		}
		u.port = port
		u.hasPort = true
	}

	return u, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(raw string) URL {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func splitQuery(raw string) []QueryParam {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "&")
	query := make([]QueryParam, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		query = append(query, QueryParam{Name: name, Value: value})
	}
	return query
}

// Scheme returns the lower-cased scheme.
func (u URL) Scheme() string { return u.scheme }

// UserInfo returns the escaped userinfo, or "" if none.
func (u URL) UserInfo() string { return u.userInfo }

// Host returns the host without port or IPv6 brackets.
func (u URL) Host() string { return u.host }

// Port returns the explicit port. ok is false when the URL has none.
func (u URL) Port() (port int, ok bool) { return u.port, u.hasPort }

// Path returns the escaped path.
func (u URL) Path() string { return u.path }

// Fragment returns the escaped fragment, or "" if none.
func (u URL) Fragment() string { return u.fragment }

// Query returns a copy of the query pairs in wire form.
func (u URL) Query() []QueryParam {
	if len(u.query) == 0 {
		return nil
	}
	return append([]QueryParam(nil), u.query...)
}

// QueryValue returns the percent-decoded value of the first pair named name.
func (u URL) QueryValue(name string) (string, bool) {
	for _, q := range u.query {
		if q.Name != name {
			continue
		}
		v, err := url.QueryUnescape(q.Value)
		if err != nil {
			return q.Value, true
		}
		return v, true
	}
	return "", false
}

// WithScheme returns a copy with the scheme replaced.
func (u URL) WithScheme(scheme string) URL {
	c := u.clone()
	c.scheme = strings.ToLower(scheme)
	return c
}

// WithHost returns a copy with the host replaced. A port embedded in host
// ("example.com:8080") is not interpreted; use WithPort for that.
func (u URL) WithHost(host string) URL {
	c := u.clone()
	c.host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return c
}

// WithPort returns a copy with the port replaced. The port is not range
// checked, so a value outside 0..MaxPort yields a URL that Parse rejects.
func (u URL) WithPort(port int) URL {
	c := u.clone()
	c.port = port
	c.hasPort = true
	return c
}

// WithoutPort returns a copy with the port removed.
func (u URL) WithoutPort() URL {
	c := u.clone()
	c.port = 0
	c.hasPort = false
	return c
}

// WithPath returns a copy with the escaped path replaced.
func (u URL) WithPath(path string) URL {
	c := u.clone()
	c.path = path
	return c
}

// WithQuery returns a copy with name=value appended. Both are query-escaped.
func (u URL) WithQuery(name, value string) URL {
	return u.WithRawQuery(url.QueryEscape(name), url.QueryEscape(value))
}

// WithRawQuery returns a copy with name=value appended as-is.
func (u URL) WithRawQuery(name, value string) URL {
	c := u.clone()
	c.query = append(c.query, QueryParam{Name: name, Value: value})
	return c
}

// WithoutQuery returns a copy with every pair named name removed.
func (u URL) WithoutQuery(name string) URL {
	c := u.clone()
	kept := c.query[:0]
	for _, q := range c.query {
		if q.Name != name {
			kept = append(kept, q)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	c.query = kept
	return c
}

// Equal reports whether u and other have identical fields. Query order is
// significant.
func (u URL) Equal(other URL) bool {
	if u.scheme != other.scheme || u.userInfo != other.userInfo || u.host != other.host ||
		u.hasPort != other.hasPort || u.port != other.port ||
		u.path != other.path || u.fragment != other.fragment ||
		len(u.query) != len(other.query) {
		return false
	}
	for i := range u.query {
		if u.query[i] != other.query[i] {
			return false
		}
	}
	return true
}

// String returns the canonical form of the URL.
func (u URL) String() string {
	var b strings.Builder

	b.WriteString(u.scheme)
	b.WriteString("://")
	if u.userInfo != "" {
		b.WriteString(u.userInfo)
		b.WriteByte('@')
	}
	if strings.Contains(u.host, ":") {
		// IPv6 zone identifiers are percent-decoded by Parse.
		b.WriteByte('[')
		b.WriteString(strings.ReplaceAll(u.host, "%", "%25"))
		b.WriteByte(']')
	} else {
		b.WriteString(u.host)
	}
	if u.hasPort {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.port))
	}
	if u.path != "" {
		if !strings.HasPrefix(u.path, "/") {
			b.WriteByte('/')
		}
		b.WriteString(u.path)
	}
	for i, q := range u.query {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(q.Name)
		b.WriteByte('=')
		b.WriteString(q.Value)
	}
	if u.fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.fragment)
	}

	return b.String()
}

func (u URL) clone() URL {
	c := u
	if u.query != nil {
		c.query = append([]QueryParam(nil), u.query...)
	}
	return c
}
