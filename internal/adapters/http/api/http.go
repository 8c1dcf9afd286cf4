// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/flagrace/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	EventDependencies
	LeaderboardDependencies
	TeamDependencies
	AdminDependencies
	FeedDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	leaderboardHandler *LeaderboardHandler
	teamsHandler       *TeamsHandler
	adminHandler       *AdminHandler
	feedHandler        *FeedHandler

	limiter   *RateLimiter
	heartbeat time.Duration
	logger    logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		heartbeat: 15 * time.Second,
		logger:    logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps)
	s.eventsHandler = NewEventsHandler(deps)
	s.leaderboardHandler = NewLeaderboardHandler(deps)
	s.teamsHandler = NewTeamsHandler(deps)
	s.adminHandler = NewAdminHandler(deps, s.logger)
	s.feedHandler = NewFeedHandler(deps, s.heartbeat, s.logger)
	return s
}

// Register attaches all HTTP routes to mux. The rate limiter sweeps idle
// clients until ctx ends.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	ingest := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		if s.limiter != nil {
			h = s.limiter.Middleware(h, endpoint)
		}
		return MetricsMiddleware(h, endpoint)
	}
	if s.limiter != nil {
		go s.limiter.run(ctx)
	}

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /events", ingest(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("POST /submissions", ingest(s.eventsHandler.HandlePostSubmission, "submissions"))
	mux.HandleFunc("POST /hints", ingest(s.eventsHandler.HandlePostHint, "hints"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{team_id}", MetricsMiddleware(s.leaderboardHandler.HandleGetRank, "rank"))

	mux.HandleFunc("GET /teams/{team_id}", MetricsMiddleware(s.teamsHandler.HandleGetTeam, "team"))
	mux.HandleFunc("GET /teams/{team_id}/stats", MetricsMiddleware(s.teamsHandler.HandleGetTeamStats, "team_stats"))
	mux.HandleFunc("GET /groups/{group_id}", MetricsMiddleware(s.teamsHandler.HandleGetGroup, "group"))
	mux.HandleFunc("GET /matrix", MetricsMiddleware(s.teamsHandler.HandleGetMatrix, "matrix"))
	mux.HandleFunc("GET /submissions", MetricsMiddleware(s.teamsHandler.HandleGetSubmissions, "submission_logs"))
	mux.HandleFunc("GET /anomalies", MetricsMiddleware(s.teamsHandler.HandleGetAnomalies, "anomalies"))

	mux.HandleFunc("POST /admin/initialize", MetricsMiddleware(s.adminHandler.HandleInitialize, "admin_initialize"))
	mux.HandleFunc("GET /admin/event", MetricsMiddleware(s.adminHandler.HandleGetEvent, "admin_event"))
	mux.HandleFunc("POST /admin/reset", MetricsMiddleware(s.adminHandler.HandleReset, "admin_reset"))
	mux.HandleFunc("GET /admin/reset", MetricsMiddleware(s.adminHandler.HandleResetStatus, "admin_reset_status"))
	mux.HandleFunc("GET /admin/export", MetricsMiddleware(s.adminHandler.HandleExport, "admin_export"))
	mux.HandleFunc("POST /admin/announcements", MetricsMiddleware(s.adminHandler.HandleAnnounce, "admin_announce"))
	mux.HandleFunc("GET /announcements", MetricsMiddleware(s.adminHandler.HandleGetAnnouncements, "announcements"))

	// Streams are long-lived; their duration histogram would be meaningless.
	mux.HandleFunc("GET /feed", s.feedHandler.HandleFeed)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure classifies err and writes it with the matching status.
func writeFailure(w http.ResponseWriter, op string, err error) {
	status, code := statusOf(err)
	writeError(w, status, code, Wrap(op, err))
}

// decode reads a JSON body, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, op string, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

const maxBodyBytes = 1 << 20
