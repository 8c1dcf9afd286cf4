package api

import (
	"context"
	"net/http"

	service "github.com/okian/flagrace/internal/app"
	"github.com/okian/flagrace/internal/domain/lifecycle"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/logger"
)

// AdminDependencies defines the interface for competition administration.
type AdminDependencies interface {
	InitializeEvent(ctx context.Context, req service.InitRequest) (model.EventConfig, error)
	EventConfig(ctx context.Context) (model.EventConfig, error)
	ResetCompetition(ctx context.Context) (service.ResetResponse, error)
	ResetStatus() (lifecycle.Status, error)
	Export(ctx context.Context) (model.Snapshot, error)
	Announce(ctx context.Context, message string) (model.Announcement, error)
	Announcements() []model.Announcement
}

// AdminHandler handles administrative requests.
type AdminHandler struct {
	deps   AdminDependencies
	logger logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies, l logger.Logger) *AdminHandler {
	return &AdminHandler{deps: deps, logger: l}
}

// HandleInitialize handles POST /admin/initialize.
func (h *AdminHandler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_initialize"
	var req service.InitRequest
	if err := decode(w, r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	cfg, err := h.deps.InitializeEvent(r.Context(), req)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// HandleGetEvent handles GET /admin/event.
func (h *AdminHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_event"
	cfg, err := h.deps.EventConfig(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleReset handles POST /admin/reset. A failed reset still answers with
// its {success, message} body.
func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_reset"
	h.logger.Info(r.Context(), "competition reset requested", logger.String("remote", clientIP(r)))
	res, err := h.deps.ResetCompetition(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "competition reset failed", logger.Error(err))
		if res.Message == "" {
			writeFailure(w, op, err)
			return
		}
		status, _ := statusOf(err)
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleResetStatus handles GET /admin/reset.
func (h *AdminHandler) HandleResetStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_reset_status"
	st, err := h.deps.ResetStatus()
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleExport handles GET /admin/export.
func (h *AdminHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_export"
	snap, err := h.deps.Export(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="flagrace-export.json"`)
	writeJSON(w, http.StatusOK, snap)
}

type announceRequest struct {
	Message string `json:"message"`
}

// HandleAnnounce handles POST /admin/announcements.
func (h *AdminHandler) HandleAnnounce(w http.ResponseWriter, r *http.Request) {
	const op = "api.admin_announce"
	var req announceRequest
	if err := decode(w, r, op, &req); err != nil {
		writeFailure(w, op, err)
		return
	}
	a, err := h.deps.Announce(r.Context(), req.Message)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// HandleGetAnnouncements handles GET /announcements.
func (h *AdminHandler) HandleGetAnnouncements(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Announcements())
}
