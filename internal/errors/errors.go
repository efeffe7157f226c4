// Package errors provides stack-carrying errors for latticeopt, used where a
// failure has to cross a goroutine boundary with its origin intact: panics
// recovered inside cell tasks and HTTP handlers, and solve jobs that fail
// in the background.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error represents an error with context and stack trace.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Component != "" {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("component=")
		builder.WriteString(e.Component)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// Wrap wraps an error with additional context. An error that already
// carries a stack keeps it.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if !stderrors.As(err, &e) {
		return &Error{Err: err, Message: msg, Stack: getStackTrace(3)}
	}
	return &Error{Err: err, Message: msg, Stack: e.Stack}
}

// Recovered converts a value obtained from recover() into an error. It
// must be called from the deferred function so the stack still shows the
// panicking frame.
func Recovered(rec interface{}) *Error {
	var cause error
	switch v := rec.(type) {
	case error:
		cause = v
	default:
		cause = fmt.Errorf("%v", v)
	}
	return &Error{
		Err:     cause,
		Message: "recovered from panic",
		Stack:   getStackTrace(4),
	}
}

// getStackTrace returns the current stack trace as a slice of strings,
// skipping the given number of frames.
func getStackTrace(skip int) []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}
