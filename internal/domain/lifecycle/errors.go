package lifecycle

import "errors"

var (
	// ErrPartialReset is returned when a reset pass fails. The reset can be
	// rerun; every pass is idempotent.
	ErrPartialReset = errors.New("reset incomplete")
	// ErrResetInProgress is returned when a reset is already running.
	ErrResetInProgress = errors.New("reset already in progress")
)
