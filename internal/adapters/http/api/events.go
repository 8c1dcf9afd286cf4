package api

import (
	"context"
	"net/http"

	service "github.com/okian/flagrace/internal/app"
	"github.com/okian/flagrace/internal/domain/model"
)

// EventDependencies defines the interface for event ingest.
type EventDependencies interface {
	RecordEvent(ctx context.Context, e model.Event) (service.IngestResult, error)
	SubmitFlag(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
	UseHint(ctx context.Context, req service.HintRequest) (service.HintResult, error)
}

// EventsHandler handles ingest requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type ackResponse struct {
	Status    service.IngestResult `json:"status"`
	Duplicate bool                 `json:"duplicate"`
}

// ingestStatus is 200 for a redelivered id and 202 otherwise.
func ingestStatus(res service.IngestResult) int {
	if res == service.Duplicate {
		return http.StatusOK
	}
	return http.StatusAccepted
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var e model.Event
	if err := decode(w, r, op, &e); err != nil {
		writeFailure(w, op, err)
		return
	}
	res, err := h.deps.RecordEvent(r.Context(), e)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, ingestStatus(res), ackResponse{Status: res, Duplicate: res == service.Duplicate})
}

// HandlePostSubmission handles POST /submissions requests.
func (h *EventsHandler) HandlePostSubmission(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_submission"
	var req service.SubmitRequest
	if err := decode(w, r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	res, err := h.deps.SubmitFlag(r.Context(), req)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, ingestStatus(res.Result), res)
}

// HandlePostHint handles POST /hints requests.
func (h *EventsHandler) HandlePostHint(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_hint"
	var req service.HintRequest
	if err := decode(w, r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	res, err := h.deps.UseHint(r.Context(), req)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, ingestStatus(res.Result), res)
}
