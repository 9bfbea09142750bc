// Package errclass defines the stable, machine-readable error classes returned
// by coordkit primitives.
package errclass

import "fmt"

// Error is a stable, machine-readable error class. Two errors with the same
// Code match under errors.Is regardless of message or cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Cause: e.Cause}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Cause: e.Cause}
}

// Wrap returns a new Error with the same Code and message carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Cause: cause}
}

var (
	// ErrLockTimeout: acquisition did not complete within the wait budget.
	ErrLockTimeout = &Error{Code: "E_LOCK_TIMEOUT"}
	// ErrLockIO: filesystem failure while creating, reading or deleting a lock file.
	ErrLockIO = &Error{Code: "E_LOCK_IO"}
	// ErrLockNotHeld: the token no longer owns the lock (renew only; release is a no-op).
	ErrLockNotHeld = &Error{Code: "E_LOCK_NOT_HELD"}
	// ErrRetryExhausted: the operation never satisfied its predicate within budget.
	ErrRetryExhausted = &Error{Code: "E_RETRY_EXHAUSTED"}
	ErrNameInvalid    = &Error{Code: "E_NAME_INVALID"}
	ErrConfigInvalid  = &Error{Code: "E_CONFIG_INVALID"}
	ErrMapIO          = &Error{Code: "E_MAP_IO"}
)
