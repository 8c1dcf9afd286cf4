package api

import (
	"errors"
	"net/http"

	service "github.com/okian/flagrace/internal/app"
	"github.com/okian/flagrace/internal/domain/lifecycle"
	"github.com/okian/flagrace/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
	ErrRateLimited  = errors.New("rate limited")
	ErrStreaming    = errors.New("streaming unsupported")
)

// Error annotates a failure with the handler operation and an optional kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Op + ": " + e.Kind.Error()
	case e.Kind == nil:
		return e.Op + ": " + e.Err.Error()
	default:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	for _, err := range []error{e.Kind, e.Err} {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// NewKind returns an error of the given kind raised by op.
func NewKind(op string, kind error) error { return &Error{Op: op, Kind: kind} }

// WrapKind classifies err as kind.
func WrapKind(op string, kind, err error) error { return &Error{Op: op, Kind: kind, Err: err} }

// Wrap annotates err with op, keeping its own classification.
func Wrap(op string, err error) error { return &Error{Op: op, Err: err} }

// statusOf maps an error to an HTTP status and a stable error code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrMalformedEvent),
		errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrAlreadySolved):
		return http.StatusConflict, "already_solved"
	case errors.Is(err, lifecycle.ErrResetInProgress):
		return http.StatusConflict, "reset_in_progress"
	case errors.Is(err, service.ErrLevelInactive):
		return http.StatusUnprocessableEntity, "level_inactive"
	case errors.Is(err, service.ErrNoHintsLeft):
		return http.StatusUnprocessableEntity, "no_hints_left"
	case errors.Is(err, ErrBackpressure), errors.Is(err, service.ErrQueueFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, lifecycle.ErrPartialReset):
		return http.StatusInternalServerError, "reset_incomplete"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
