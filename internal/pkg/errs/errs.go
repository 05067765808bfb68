// Package errs defines the error kinds shared by every wagering component.
// Package-level sentinels wrap one of these kinds so callers can classify
// any returned error with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a request that is well formed but not legal in the current state.
	ErrConflict = errors.New("conflict")
	// ErrOwnership marks an item no longer owned by the claimed party.
	ErrOwnership = errors.New("ownership mismatch")
	// ErrUnavailable marks an unreachable shared or durable store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound marks a missing session or transfer.
	ErrNotFound = errors.New("not found")
)

// Kind names returned by KindOf.
const (
	KindValidation  = "validation"
	KindConflict    = "conflict"
	KindOwnership   = "ownership"
	KindUnavailable = "unavailable"
	KindNotFound    = "not_found"
	KindInternal    = "internal"
)

// New returns a sentinel error of the given kind.
func New(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

// Wrap tags err with kind while keeping err in the chain.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// KindOf classifies err into one of the kind names.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrOwnership):
		return KindOwnership
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}
