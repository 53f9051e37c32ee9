package snowflake

import (
	"errors"
	"fmt"
)

// Kind classifies errors crossing the package boundary. The HTTP layer
// maps kinds to status codes; this package never deals in transport
// concerns.
type Kind string

const (
	// KindInvalidIdentifier means a raw name failed identifier validation.
	// Never retried; a client error.
	KindInvalidIdentifier Kind = "invalid_identifier"

	// KindNoActiveConnection means a session id did not resolve to a live
	// session. The caller should reconnect.
	KindNoActiveConnection Kind = "no_active_connection"

	// KindWarehouseSuspended means the warehouse was suspended and could
	// not be brought back within the retry budget.
	KindWarehouseSuspended Kind = "warehouse_suspended"

	// KindSessionExpired means connectivity was lost and the liveness
	// probe failed; the caller must reconnect, not merely retry.
	KindSessionExpired Kind = "session_expired"

	// KindQueryFailed covers any other query error (syntax, permissions).
	KindQueryFailed Kind = "query_failed"
)

// Error carries a classification kind along with the underlying cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

// NewError creates a classified error with no underlying cause.
func NewError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// WrapError creates a classified error wrapping an underlying cause.
func WrapError(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// KindOf extracts the Kind from an error chain. Unclassified errors
// report KindQueryFailed.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.kind
	}
	return KindQueryFailed
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.kind == kind
}

func invalidIdentifierError(label, name string) *Error {
	return NewError(KindInvalidIdentifier, fmt.Sprintf("invalid %s name: %q", label, name))
}
