package lock

import (
	"fmt"

	"wager-engine/internal/pkg/errs"
)

// Lock-related errors.
var (
	// ErrLockHeld is returned when another holder owns the advisory lock.
	ErrLockHeld = fmt.Errorf("%w: lock held by another worker", errs.ErrConflict)
	// ErrNotHolder is returned when releasing a lock whose token no longer matches.
	ErrNotHolder = fmt.Errorf("%w: lock not held by caller", errs.ErrConflict)
)
