// Package errkind defines the runtime's error taxonomy. Every error surfaced
// across a handle, protocol, or host API boundary is classified into one of
// the Kind values below so that callers can branch on failure category
// without parsing message text, mirroring the wrapped-error idiom the
// ariadne engine uses for its own CrawlError (url/stage/cause).
package errkind

import "fmt"

// Kind classifies a runtime error.
type Kind int

const (
	// InvalidArgument covers bad identifiers, null-where-required strings,
	// qubit index zero, non-power-of-two matrix dimensions, pop from an
	// empty set, and out-of-range indices.
	InvalidArgument Kind = iota
	// TypeMismatch is a handle used with an API its variant does not support.
	TypeMismatch
	// InvalidHandle is index 0, an unknown index, or an already-deleted index.
	InvalidHandle
	// Protocol is a framing, version, or request-kind violation.
	Protocol
	// Timeout is an accept or shutdown window exceeded.
	Timeout
	// Deadlock is Recv called after the frontend's run has returned.
	Deadlock
	// Downstream is an asynchronous request that failed; reported at the
	// next synchronous barrier rather than at the call site.
	Downstream
	// UserCallback is a callback that returned or raised a failure.
	UserCallback
	// IO is a transport read/write failure.
	IO
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case TypeMismatch:
		return "type_mismatch"
	case InvalidHandle:
		return "invalid_handle"
	case Protocol:
		return "protocol"
	case Timeout:
		return "timeout"
	case Deadlock:
		return "deadlock"
	case Downstream:
		return "downstream"
	case UserCallback:
		return "user_callback"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the runtime's error type: a Kind plus a human-readable message
// and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Context string // e.g. plugin name, request id, identifier under test
	Msg     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Context, e.Msg, e.Cause)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Context, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, context, msg string) *Error {
	return &Error{Kind: kind, Context: context, Msg: msg}
}

// Wrap builds an *Error that wraps cause.
func Wrap(kind Kind, context, msg string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Msg: msg, Cause: cause}
}

// ParseKind maps a Kind's String() back to its Kind, for reconstructing an
// error reported over the wire. Unrecognized strings map to IO.
func ParseKind(s string) Kind {
	for k := InvalidArgument; k <= IO; k++ {
		if k.String() == s {
			return k
		}
	}
	return IO
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, or IO otherwise.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return IO
		}
		err = u.Unwrap()
	}
	return IO
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == k {
				return true
			}
			err = e.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
