package optimization

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by the optimization packages matches
// exactly one of these through errors.Is.
var (
	// ErrConfiguration reports missing or invalid setup: bad bounds, bin
	// counts, an unset nested solver. Raised before any work starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrSyntax reports unparseable constraint or expression text.
	ErrSyntax = errors.New("syntax error")
	// ErrSymbol reports an undefined symbol in constraint text.
	ErrSymbol = errors.New("symbol error")
	// ErrMapper reports that a mapped task failed.
	ErrMapper = errors.New("mapper error")
	// ErrState reports a query made before a result exists.
	ErrState = errors.New("state error")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if e.Kind != nil {
		msg = fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind != nil && e.Kind == target
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error of the given kind.
func NewError(kind error, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(kind error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a kind and additional context.
// If err is nil, WrapError returns nil.
func WrapError(kind error, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(kind error, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ConfigurationErrorf is shorthand for a component-scoped ErrConfiguration.
func ConfigurationErrorf(component, format string, args ...interface{}) *Error {
	return NewErrorf(ErrConfiguration, format, args...).WithComponent(component)
}

// IsOptimizationError checks if an error is, or wraps, an *Error.
// If so, it returns the outermost such error and true.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
