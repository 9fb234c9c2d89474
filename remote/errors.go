package remote

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch on behavior instead of
// matching strings. The zero value is KindUnknown.
type Kind int

const (
	// KindUnknown covers anything uncategorized. Not retried.
	KindUnknown Kind = iota
	// KindTransient marks timeouts, temporary unavailability, and remote
	// throttle signals. Retried automatically up to the attempt ceiling.
	KindTransient
	// KindValidation marks malformed keys/values and oversize payloads.
	// Fails before any budget is consumed; never retried.
	KindValidation
	// KindQuotaExceeded means the budget stayed empty past the caller's
	// deadline while the operation was still queued.
	KindQuotaExceeded
	// KindDeadlineExceeded means the caller's deadline elapsed while the
	// operation was queued; no budget was consumed.
	KindDeadlineExceeded
	// KindCanceled means the operation was canceled before dispatch.
	KindCanceled
)

// String returns a stable label for the kind (used in logs and metrics).
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error carries the kind plus the operation context accumulated on the way
// up: which store/key was targeted and how many attempts were made.
// Always use the pointer type; errors.As relies on it.
type Error struct {
	Kind    Kind
	Op      string // "get", "set", "delete", "list"
	Store   string
	Key     string
	Attempt int // attempts made when the error became terminal (0 = never dispatched)
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s/%s: %s", e.Op, e.Store, e.Key, e.Kind)
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// WrapError builds a *Error around cause. A nil cause is allowed for kinds
// that originate locally (deadline, quota, cancellation).
func WrapError(kind Kind, op, store, key string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Store: store, Key: key, Err: cause}
}

// KindOf extracts the Kind from err, unwrapping as needed.
// A nil error has no kind; KindUnknown is returned for foreign errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }
