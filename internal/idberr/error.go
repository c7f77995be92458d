package idberr

import "fmt"

// Kind enumerates the closed set of error categories the coordinator and
// its backing store can produce.
type Kind string

const (
	// None is the zero value and means "no error".
	None Kind = ""

	// VersionError is returned when a client requests a database version
	// lower than the version currently installed.
	VersionError Kind = "VersionError"

	// ConstraintError is returned when an add-mode put collides with an
	// existing key.
	ConstraintError Kind = "ConstraintError"

	// InvalidStateError is returned when an operation targets an object
	// store or index that does not exist.
	InvalidStateError Kind = "InvalidStateError"

	// QuotaExceeded is returned when the backing store has run out of
	// space. No component in this repository synthesizes it today; it is
	// retained because it is part of the closed taxonomy a real backing
	// store would raise.
	QuotaExceeded Kind = "QuotaExceeded"

	// UnknownError covers backing-store I/O failures that don't map to a
	// more specific kind.
	UnknownError Kind = "UnknownError"
)

// Error is a first-class value object carrying a Kind, an optional
// message, and an optional wrapped cause. The zero Error (Kind == None)
// means success and is never returned to a client as a failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Nil is the canonical success value.
var Nil = Error{}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) Error {
	return Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind that wraps an underlying cause,
// typically an I/O failure surfaced from the backing store.
func Wrap(kind Kind, cause error, format string, args ...any) Error {
	return Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsNull reports whether this Error represents success.
func (e Error) IsNull() bool {
	return e.Kind == None
}

func (e Error) Error() string {
	if e.IsNull() {
		return "<no error>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an Error (ignoring Message/Cause) of the
// same Kind, so callers can write errors.Is(err, idberr.Error{Kind: idberr.ConstraintError}).
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
