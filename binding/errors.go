package binding

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingValue is wrapped when a required parameter is absent.
	ErrMissingValue = errors.New("missing required value")

	// ErrUnsupportedType is wrapped when a value has no wire representation
	// for its role.
	ErrUnsupportedType = errors.New("unsupported value type")

	// ErrUnresolvedPlaceholder is wrapped when a {placeholder} is still
	// present after binding.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

	// ErrArgumentCount is wrapped when the number of arguments differs from
	// the number of declared parameters.
	ErrArgumentCount = errors.New("argument count mismatch")

	// ErrInvalidMethod is wrapped by Method.Validate.
	ErrInvalidMethod = errors.New("invalid method")
)

// Error is a binding failure. The request is never sent.
type Error struct {
	// Method is the Method.Name being bound.
	Method string

	// Param is the parameter name involved, if any.
	Param string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("binding")
	if e.Method != "" {
		fmt.Fprintf(&b, ": method %s", e.Method)
	}
	if e.Param != "" {
		fmt.Fprintf(&b, ": param %s", e.Param)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsBindingError reports whether err is or wraps an *Error.
func IsBindingError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}
