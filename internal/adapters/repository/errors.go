package repository

import (
	"context"
	"errors"

	"github.com/okian/flagrace/internal/domain/model"
)

// Sentinel kinds for storage errors.
var (
	ErrNotFound     = model.ErrNotFound
	ErrDuplicate    = errors.New("duplicate id")
	ErrUnavailable  = errors.New("store unavailable")
	ErrInvalidBatch = errors.New("invalid batch size")
)

// IsRetryable reports whether err is a transient storage failure that may
// succeed when retried with the same event id.
func IsRetryable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUnavailable)
}
