// Package errs defines the store's machine-readable error kinds. Validation
// and state failures never touch stored state; storage errors propagate
// with provenance; not-found is a distinct kind from validation so callers
// can branch without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic branching.
type Kind int

const (
	// KindValidation covers malformed input: bad paths, invalid sort
	// columns, oversized batches, non-finite rewards, misaligned traffic
	// splits, inconsistent bootstrap counts, schema mismatches.
	KindValidation Kind = iota
	// KindNotFound covers missing tasks, executions, experiments,
	// patterns, and adaptations.
	KindNotFound
	// KindState covers lifecycle violations, e.g. starting an execution
	// without an active task.
	KindState
	// KindStorage covers backing-store I/O or constraint errors.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across the engine. Field is the
// validated parameter name the caller got wrong, when known; Allowed lists
// the permitted values for that parameter so the message is self-describing
// without leaking anything sensitive.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Allowed []string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" && len(e.Allowed) > 0 {
		return fmt.Sprintf("%s: %s (field %q, allowed: %v)", e.Kind, e.Message, e.Field, e.Allowed)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, errs.NotFound) etc. work against the sentinel
// values below, matching on Kind rather than identity.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	NotFound   = &Error{Kind: KindNotFound}
	Validation = &Error{Kind: KindValidation}
	State      = &Error{Kind: KindState}
	Storage    = &Error{Kind: KindStorage}
)

// Validationf builds a validation error with an optional field/allowlist.
func Validationf(field string, allowed []string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Field: field, Allowed: allowed}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Statef builds a lifecycle-violation error.
func Statef(format string, args ...interface{}) *Error {
	return &Error{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

// Storagef wraps a backing-store error with provenance.
func Storagef(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...), Err: err}
}

// Of reports the Kind of err, defaulting to KindStorage for unrecognized
// errors (most likely raw driver errors that escaped wrapping).
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}
