package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	service "github.com/okian/flagrace/internal/app"
	"github.com/okian/flagrace/internal/domain/lifecycle"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestStatusOf(t *testing.T) {
	convey.Convey("Given errors from every layer", t, func() {
		cases := []struct {
			err    error
			status int
			code   string
		}{
			{NewKind("op", ErrBadRequest), http.StatusBadRequest, "bad_request"},
			{fmt.Errorf("%w: id", model.ErrMalformedEvent), http.StatusBadRequest, "bad_request"},
			{fmt.Errorf("team t: %w", model.ErrNotFound), http.StatusNotFound, "not_found"},
			{service.ErrAlreadySolved, http.StatusConflict, "already_solved"},
			{lifecycle.ErrResetInProgress, http.StatusConflict, "reset_in_progress"},
			{service.ErrLevelInactive, http.StatusUnprocessableEntity, "level_inactive"},
			{service.ErrNoHintsLeft, http.StatusUnprocessableEntity, "no_hints_left"},
			{service.ErrQueueFull, http.StatusTooManyRequests, "backpressure"},
			{NewKind("op", ErrRateLimited), http.StatusTooManyRequests, "rate_limited"},
			{service.ErrNotStarted, http.StatusServiceUnavailable, "unavailable"},
			{fmt.Errorf("%w: pass hints: %w", lifecycle.ErrPartialReset, errors.New("disk")), http.StatusInternalServerError, "reset_incomplete"},
			{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		}

		convey.Convey("Then each maps to its status and code", func() {
			for _, c := range cases {
				status, code := statusOf(Wrap("api.test", c.err))
				convey.So(status, convey.ShouldEqual, c.status)
				convey.So(code, convey.ShouldEqual, c.code)
			}
		})
	})

	convey.Convey("Given a kinded error wrapping a cause", t, func() {
		cause := errors.New("unexpected EOF")
		err := WrapKind("api.post_event", ErrBadRequest, cause)

		convey.Convey("Then both are reachable and the message names the operation", func() {
			convey.So(errors.Is(err, ErrBadRequest), convey.ShouldBeTrue)
			convey.So(errors.Is(err, cause), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldEqual, "api.post_event: bad request: unexpected EOF")
			convey.So(NewKind("op", ErrBackpressure).Error(), convey.ShouldEqual, "op: backpressure")
		})
	})
}
