// Package apperr defines the error taxonomy shared by the order core and the
// HTTP layer. Every error that reaches a client is one of these kinds with a
// machine-stable code; the wrapped cause is only ever logged.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence_failure"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Status overrides the HTTP status derived from Kind when non-zero.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Code so sentinel values such as ErrProductNotFound
// can be compared with errors.Is after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func InvalidInput(code, message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Persistence wraps an infrastructure failure. The message shown to clients
// is fixed; cause stays server-side.
func Persistence(op string, cause error) *Error {
	return &Error{Kind: KindPersistence, Code: "persistence_failure", Message: op, Err: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: message, Err: cause}
}

var (
	ErrOrderNotFound   = NotFound("order_not_found", "order not found")
	ErrProductNotFound = NotFound("product_not_found", "product not found")
	ErrUserNotFound    = NotFound("user_not_found", "user not found")
	ErrInvoiceNotFound = NotFound("invoice_not_found", "invoice not found")
)

// KindOf reports the kind of err, treating foreign errors as internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsNotFound is shorthand for KindOf(err) == KindNotFound.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
