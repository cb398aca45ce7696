package binding

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Role is the part of the request a parameter binds to.
type Role int

// Binding roles.
const (
	RoleHost Role = iota + 1
	RolePath
	RoleQuery
	RoleHeader
	RoleHeaderCollection
	RoleBody
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RolePath:
		return "path"
	case RoleQuery:
		return "query"
	case RoleHeader:
		return "header"
	case RoleHeaderCollection:
		return "header-collection"
	case RoleBody:
		return "body"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Param describes one positional argument of a Method.
type Param struct {
	// Role selects where the value goes.
	Role Role

	// Name is the placeholder, query or header name. For RoleHeaderCollection
	// it is the header prefix. Ignored for RoleBody.
	Name string

	// Encoded marks path and query values that are already percent-encoded.
	Encoded bool

	// Required makes an absent value a binding error.
	Required bool
}

// Method is the static description of one REST operation.
type Method struct {
	// Name identifies the operation in errors, logs and spans.
	Name string

	// HTTPMethod is the verb, e.g. http.MethodPut.
	HTTPMethod string

	// Host is an optional base URL template with {name} placeholders filled
	// by RoleHost params. Empty means the Binder's BaseURL.
	Host string

	// Path is the path template, relative to the base URL.
	Path string

	// Headers are static headers sent with every call; header params of the
	// same name override them.
	Headers map[string]string

	// Params lists the arguments in call order.
	Params []Param

	// ExpectedStatus is the set of success codes. Empty means any 2xx.
	ExpectedStatus []int
}

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// placeholders returns the placeholder names of template in order of
// appearance, including duplicates.
func placeholders(template string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		names = append(names, m[1])
	}
	return names
}

// Validate checks the metadata once, at registration time. It reports every
// problem found, joined.
func (m *Method) Validate() error {
	if m == nil {
		return &Error{Err: ErrInvalidMethod}
	}

	var errs []error
	invalid := func(param, format string, args ...any) {
		errs = append(errs, &Error{
			Method: m.Name,
			Param:  param,
			Err:    fmt.Errorf("%w: %s", ErrInvalidMethod, fmt.Sprintf(format, args...)),
		})
	}

	if m.Name == "" {
		invalid("", "missing name")
	}
	if m.HTTPMethod == "" {
		invalid("", "missing http method")
	} else if strings.ToUpper(m.HTTPMethod) != m.HTTPMethod {
		invalid("", "http method %q must be upper case", m.HTTPMethod)
	}

	hostHoles := make(map[string]bool)
	for _, name := range placeholders(m.Host) {
		hostHoles[name] = true
	}
	pathHoles := make(map[string]bool)
	for _, name := range placeholders(m.Path) {
		pathHoles[name] = true
	}

	bound := make(map[string]bool)
	bodies := 0
	for _, p := range m.Params {
		switch p.Role {
		case RoleHost:
			if !hostHoles[p.Name] {
				invalid(p.Name, "no {%s} in host template %q", p.Name, m.Host)
			}
			bound["host:"+p.Name] = true
		case RolePath:
			if !pathHoles[p.Name] {
				invalid(p.Name, "no {%s} in path template %q", p.Name, m.Path)
			}
			bound["path:"+p.Name] = true
		case RoleQuery, RoleHeader:
			if p.Name == "" {
				invalid("", "%s param without name", p.Role)
			}
		case RoleHeaderCollection:
			if p.Name == "" {
				invalid("", "header collection without prefix")
			}
		case RoleBody:
			bodies++
		default:
			invalid(p.Name, "unknown role %s", p.Role)
		}
	}
	if bodies > 1 {
		invalid("", "%d body params, at most one allowed", bodies)
	}
	if bodies > 0 && (m.HTTPMethod == http.MethodGet || m.HTTPMethod == http.MethodHead) {
		invalid("", "%s cannot carry a body", m.HTTPMethod)
	}

	for name := range hostHoles {
		if !bound["host:"+name] {
			invalid(name, "host placeholder {%s} has no param", name)
		}
	}
	for name := range pathHoles {
		if !bound["path:"+name] {
			invalid(name, "path placeholder {%s} has no param", name)
		}
	}

	return errors.Join(errs...)
}

// Expects reports whether status is a success code for m.
func (m *Method) Expects(status int) bool {
	if len(m.ExpectedStatus) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range m.ExpectedStatus {
		if s == status {
			return true
		}
	}
	return false
}
