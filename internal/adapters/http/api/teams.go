package api

import (
	"context"
	"net/http"

	service "github.com/okian/flagrace/internal/app"
	"github.com/okian/flagrace/internal/domain/matrix"
	"github.com/okian/flagrace/internal/domain/model"
)

// TeamDependencies defines the interface for per-team and matrix reads.
type TeamDependencies interface {
	TeamStatistics(ctx context.Context, teamID string) (service.TeamStatistics, error)
	TeamDetail(ctx context.Context, teamID string) (service.TeamDetail, error)
	GroupOverview(ctx context.Context, groupID string) (matrix.GroupOverview, error)
	Matrix(ctx context.Context) (service.MatrixView, error)
	SubmissionLogs(ctx context.Context, page, pageSize int) (service.SubmissionPage, error)
	Anomalies(ctx context.Context) ([]model.AnomalyFinding, error)
}

// TeamsHandler serves team, group and competition-wide read models.
type TeamsHandler struct {
	deps TeamDependencies
}

// NewTeamsHandler creates a new teams handler.
func NewTeamsHandler(deps TeamDependencies) *TeamsHandler {
	return &TeamsHandler{deps: deps}
}

// HandleGetTeamStats handles GET /teams/{team_id}/stats.
func (h *TeamsHandler) HandleGetTeamStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_team_stats"
	st, err := h.deps.TeamStatistics(r.Context(), r.PathValue("team_id"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleGetTeam handles GET /teams/{team_id}.
func (h *TeamsHandler) HandleGetTeam(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_team"
	d, err := h.deps.TeamDetail(r.Context(), r.PathValue("team_id"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleGetGroup handles GET /groups/{group_id}.
func (h *TeamsHandler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_group"
	o, err := h.deps.GroupOverview(r.Context(), r.PathValue("group_id"))
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// HandleGetMatrix handles GET /matrix.
func (h *TeamsHandler) HandleGetMatrix(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_matrix"
	m, err := h.deps.Matrix(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleGetSubmissions handles GET /submissions?page=&page_size=.
func (h *TeamsHandler) HandleGetSubmissions(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_submissions"
	page, err := positiveQuery(r, "page", 1)
	if err != nil {
		writeFailure(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	size, err := positiveQuery(r, "page_size", 0)
	if err != nil {
		writeFailure(w, op, WrapKind(op, ErrBadRequest, err))
		return
	}
	p, err := h.deps.SubmissionLogs(r.Context(), page, size)
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleGetAnomalies handles GET /anomalies.
func (h *TeamsHandler) HandleGetAnomalies(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_anomalies"
	findings, err := h.deps.Anomalies(r.Context())
	if err != nil {
		writeFailure(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, findings)
}
