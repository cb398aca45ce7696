package binding

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/kroma-labs/restpipe/codec"
	"github.com/kroma-labs/restpipe/pipeline"
	"github.com/kroma-labs/restpipe/urlbuilder"
)

const (
	contentTypeOctetStream = "application/octet-stream"
	contentTypeText        = "text/plain; charset=utf-8"
)

// Binder builds requests from Methods. A Binder is immutable and safe for
// concurrent use.
type Binder struct {
	// BaseURL is used for Methods without a Host template.
	BaseURL string

	// Serializer encodes body values that are not []byte, string or
	// io.Reader. Nil means codec.Default.
	Serializer codec.Serializer
}

// NewBinder creates a Binder. An empty baseURL is allowed when every Method
// carries a Host template; otherwise it must parse.
func NewBinder(baseURL string, serializer codec.Serializer) (*Binder, error) {
	if baseURL != "" {
		if _, err := urlbuilder.Parse(baseURL); err != nil {
			return nil, err
		}
	}
	if serializer == nil {
		serializer = codec.Default
	}
	return &Binder{BaseURL: baseURL, Serializer: serializer}, nil
}

// Bind builds the request for one call of m. args are matched to m.Params by
// position.
//
// Bind fails with *Error for missing or unconvertible values and leftover
// placeholders, and with *urlbuilder.MalformedURLError when the resulting
// URL does not parse.
func (b *Binder) Bind(m *Method, args ...any) (*pipeline.Request, error) {
	if m == nil {
		return nil, &Error{Err: ErrInvalidMethod}
	}
	if len(args) != len(m.Params) {
		return nil, &Error{
			Method: m.Name,
			Err:    fmt.Errorf("%w: want %d, got %d", ErrArgumentCount, len(m.Params), len(args)),
		}
	}

	fail := func(p Param, err error) error {
		return &Error{Method: m.Name, Param: p.Name, Err: err}
	}

	hostValues := make(map[string]string)
	pathValues := make(map[string]string)
	var (
		query   []urlbuilder.QueryParam
		headers []headerEntry
		body    any
		hasBody bool
	)

	for i, p := range m.Params {
		arg := args[i]

		switch p.Role {
		case RoleHeaderCollection:
			entries, ok, err := collectionValue(arg)
			if err != nil {
				return nil, fail(p, err)
			}
			if !ok && p.Required {
				return nil, fail(p, ErrMissingValue)
			}
			for _, e := range entries {
				headers = append(headers, headerEntry{key: p.Name + e.key, value: e.value})
			}
			continue

		case RoleBody:
			if isAbsent(arg) {
				if p.Required {
					return nil, fail(p, ErrMissingValue)
				}
				continue
			}
			body, hasBody = arg, true
			continue
		}

		s, ok, err := stringValue(arg)
		if err != nil {
			return nil, fail(p, err)
		}
		if !ok {
			if p.Required {
				return nil, fail(p, ErrMissingValue)
			}
			continue
		}

		switch p.Role {
		case RoleHost:
			hostValues[p.Name] = s
		case RolePath:
			if !p.Encoded {
				s = url.PathEscape(s)
			}
			// Later params override earlier ones for the same placeholder.
			pathValues[p.Name] = s
		case RoleQuery:
			if p.Encoded {
				query = append(query, urlbuilder.QueryParam{Name: p.Name, Value: s})
			} else {
				query = append(query, urlbuilder.QueryParam{Name: url.QueryEscape(p.Name), Value: url.QueryEscape(s)})
			}
		case RoleHeader:
			headers = append(headers, headerEntry{key: p.Name, value: s})
		default:
			return nil, fail(p, fmt.Errorf("%w: unknown role %s", ErrInvalidMethod, p.Role))
		}
	}

	base := b.BaseURL
	if m.Host != "" {
		var missing string
		if base, missing = fill(m.Host, hostValues); missing != "" {
			return nil, &Error{Method: m.Name, Param: missing, Err: ErrUnresolvedPlaceholder}
		}
	}
	path, missing := fill(m.Path, pathValues)
	if missing != "" {
		return nil, &Error{Method: m.Name, Param: missing, Err: ErrUnresolvedPlaceholder}
	}

	u, err := urlbuilder.Parse(base)
	if err != nil {
		return nil, err
	}
	u = u.WithPath(joinPath(u.Path(), path))
	for _, q := range query {
		u = u.WithRawQuery(q.Name, q.Value)
	}

	req := pipeline.NewRequest(m.HTTPMethod, "")
	req.SetURL(u)

	for name, value := range m.Headers {
		req.Header.Set(name, value)
	}
	for _, h := range headers {
		req.Header.Set(h.key, h.value)
	}

	if hasBody {
		if err := b.attachBody(req, body); err != nil {
			return nil, &Error{Method: m.Name, Param: "body", Err: err}
		}
	}

	return req, nil
}

func (b *Binder) attachBody(req *pipeline.Request, body any) error {
	var contentType string

	switch v := body.(type) {
	case []byte:
		req.SetBody(v)
		contentType = contentTypeOctetStream
	case string:
		req.SetBody([]byte(v))
		contentType = contentTypeText
	case *bytes.Buffer:
		req.SetBody(v.Bytes())
		contentType = contentTypeOctetStream
	case io.Reader:
		req.SetBodyStream(v)
		contentType = contentTypeOctetStream
	default:
		serializer := b.Serializer
		if serializer == nil {
			serializer = codec.Default
		}
		data, ct, err := serializer.Serialize(v)
		if err != nil {
			return err
		}
		req.SetBody(data)
		contentType = ct
	}

	if req.Header.Get("Content-Type") == "" && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return nil
}

// isAbsent reports whether a body argument carries no value: nil, a nil
// byte slice, or a typed nil pointer such as a nil *bytes.Buffer or *os.File.
func isAbsent(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []byte:
		return x == nil
	default:
		return isNilPointer(v)
	}
}

// fill replaces every {name} in template with values[name]. Substituted
// values are not scanned again. missing is the first placeholder without a
// value.
func fill(template string, values map[string]string) (out, missing string) {
	out = placeholderRe.ReplaceAllStringFunc(template, func(hole string) string {
		name := hole[1 : len(hole)-1]
		v, ok := values[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return hole
		}
		return v
	})
	return out, missing
}

func joinPath(base, rel string) string {
	switch {
	case rel == "":
		return base
	case base == "" || base == "/":
		return "/" + strings.TrimPrefix(rel, "/")
	default:
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
	}
}
