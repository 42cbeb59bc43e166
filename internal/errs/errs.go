// Package errs defines the error-kind taxonomy of spec.md §7, built on
// github.com/cockroachdb/errors so each kind can carry a wrapped cause
// while still being matched with errors.Is against the sentinel Kind
// values below.
package errs

import "github.com/cockroachdb/errors"

// Kind identifies one of spec.md §7's recognized error categories.
type Kind int

const (
	// TornRead: observed cell hash mismatched payload. Recovery is local
	// retry; internal/client's Get returns it once its read attempts
	// (MaxTornReadRetries) are used up.
	TornRead Kind = iota
	// NotFound: key absent, surfaced as a false/absent return.
	NotFound
	// NeedResize: insertion exhausted all placement options. The node
	// resizes transparently and retries; this kind only escapes to the
	// client if the retry also fails.
	NeedResize
	// NotResponsible: a write arrived at a node that doesn't own the key.
	NotResponsible
	// ConnectionLost: a connection's outstanding work completed in flush
	// state; every continuation attached to it fails with this kind.
	ConnectionLost
	// AllocationFailure: pinning or registration failed. Fatal for the
	// affected request.
	AllocationFailure
)

func (k Kind) String() string {
	switch k {
	case TornRead:
		return "torn_read"
	case NotFound:
		return "not_found"
	case NeedResize:
		return "need_resize"
	case NotResponsible:
		return "not_responsible"
	case ConnectionLost:
		return "connection_lost"
	case AllocationFailure:
		return "allocation_failure"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return e.kind.String() + ": " + e.cause.Error()
	}
	return e.kind.String()
}

func (e *kindError) Unwrap() error { return e.cause }

// New builds an error tagged with kind, optionally wrapping cause (pass nil
// for kinds with no underlying cause, e.g. NotFound).
func New(kind Kind, cause error) error {
	return &kindError{kind: kind, cause: cause}
}

// Newf is New with a formatted cause message, built via cockroachdb/errors
// so it preserves a stack trace the way the rest of this module's errors
// do.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, cause: errors.Newf(format, args...)}
}

// Is reports whether err (or anything it wraps) is tagged with kind.
func Is(err error, kind Kind) bool {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind == kind
	}
	return false
}

// KindOf extracts the Kind tagged on err, if any.
func KindOf(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}
