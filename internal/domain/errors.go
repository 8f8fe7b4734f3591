package domain

import "errors"

// Error kinds understood by the HTTP layer.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Invalid reports malformed input with a caller-facing message.
func Invalid(msg string) error { return &kindError{kind: ErrInvalidInput, msg: msg} }

// Conflict reports a state conflict with a caller-facing message.
func Conflict(msg string) error { return &kindError{kind: ErrConflict, msg: msg} }

// Forbidden reports a permission failure with a caller-facing message.
func Forbidden(msg string) error { return &kindError{kind: ErrForbidden, msg: msg} }

// Unauthenticated reports a credential failure with a caller-facing message.
func Unauthenticated(msg string) error { return &kindError{kind: ErrUnauthenticated, msg: msg} }

// NotFound reports a missing or foreign-owned resource with a caller-facing message.
func NotFound(msg string) error { return &kindError{kind: ErrNotFound, msg: msg} }
