// Package domainerr tags domain sentinel errors with the class of failure so
// callers can decide how to react without inspecting storage errors.
package domainerr

import "errors"

// Kind classifies a domain error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindState      Kind = "state"
	KindNotFound   Kind = "not_found"
	KindIntegrity  Kind = "integrity"
	KindUnknown    Kind = "unknown"
)

// Error is a sentinel error carrying a stable code and a Kind.
type Error struct {
	code string
	kind Kind
}

func (e *Error) Error() string { return e.code }

// Code returns the snake_case error code.
func (e *Error) Code() string { return e.code }

// Kind returns the error class.
func (e *Error) Kind() Kind { return e.kind }

func newError(kind Kind, code string) *Error {
	return &Error{code: code, kind: kind}
}

func Validation(code string) *Error { return newError(KindValidation, code) }
func Conflict(code string) *Error   { return newError(KindConflict, code) }
func State(code string) *Error      { return newError(KindState, code) }
func NotFound(code string) *Error   { return newError(KindNotFound, code) }

// Integrity marks errors that mean an invariant was broken despite locking.
// They are never retried and must be logged distinctly.
func Integrity(code string) *Error { return newError(KindIntegrity, code) }

// KindOf returns the Kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.kind
	}
	return KindUnknown
}

// IsIntegrity reports whether err is an integrity violation.
func IsIntegrity(err error) bool {
	return KindOf(err) == KindIntegrity
}
