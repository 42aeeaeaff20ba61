// Package validation checks request input before it reaches the credential
// store. Each check returns a Result: either the parsed input or the list of
// field-level problems.
package validation

import "strings"

// FieldError is one problem with one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is Ok(value) or Err(field errors).
type Result[T any] struct {
	value T
	errs  []FieldError
}

func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

func Err[T any](errs ...FieldError) Result[T] {
	return Result[T]{errs: errs}
}

func (r Result[T]) IsOk() bool {
	return len(r.errs) == 0
}

// Value returns the parsed input and whether the result is Ok.
func (r Result[T]) Value() (T, bool) {
	if !r.IsOk() {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Errors returns the field errors of an Err result.
func (r Result[T]) Errors() []FieldError {
	return r.errs
}

// Err returns nil for Ok, otherwise an *Error listing the field errors.
func (r Result[T]) Err() error {
	if r.IsOk() {
		return nil
	}
	return &Error{Fields: r.errs}
}

// Error is the error form of an Err result.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, " ")
}

// First returns the first message, the one shown to clients.
func (e *Error) First() string {
	if len(e.Fields) == 0 {
		return ""
	}
	return e.Fields[0].Message
}
