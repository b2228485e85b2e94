package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nugget/datalookup/internal/audit"
	"github.com/nugget/datalookup/internal/buildinfo"
	"github.com/nugget/datalookup/internal/connwatch"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                             `json:"status"`
	Model    string                             `json:"model"`
	Roles    []string                           `json:"roles"`
	Services map[string]connwatch.ServiceStatus `json:"services,omitempty"`
	Build    map[string]string                  `json:"build"`
}

// handleHealth reports "healthy" when every watched service answered its
// last probe and "degraded" otherwise. The status code is 200 either
// way.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "healthy",
		Model:  s.agent.Model(),
		Roles:  s.agent.Roles(),
		Build:  buildinfo.Info(),
	}
	if s.watch != nil {
		resp.Services = s.watch.Status()
		if !s.watch.AllReady() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

// AuditSummaryResponse is the body of GET /api/audit/summary.
type AuditSummaryResponse struct {
	Since  time.Time                 `json:"since"`
	Until  time.Time                 `json:"until"`
	Total  *audit.Summary            `json:"total"`
	ByRole map[string]*audit.Summary `json:"by_role"`
	ByRule map[string]*audit.Summary `json:"by_rule"`
}

// handleAuditSummary aggregates guard verdicts and executions.
// GET /api/audit/summary?since=24h
func (s *Server) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.errorResponse(w, http.StatusNotFound, "not_found", "audit log is not enabled")
		return
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid_request_error", "since must be a positive duration such as 24h")
			return
		}
		window = d
	}

	end := time.Now().UTC()
	start := end.Add(-window)
	ctx := r.Context()

	total, err := s.audit.Summary(ctx, start, end)
	if err != nil {
		s.auditError(w, err)
		return
	}
	byRole, err := s.audit.SummaryByRole(ctx, start, end)
	if err != nil {
		s.auditError(w, err)
		return
	}
	byRule, err := s.audit.SummaryByRule(ctx, start, end)
	if err != nil {
		s.auditError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AuditSummaryResponse{
		Since:  start,
		Until:  end,
		Total:  total,
		ByRole: byRole,
		ByRule: byRule,
	}, s.logger)
}

func (s *Server) auditError(w http.ResponseWriter, err error) {
	s.logger.Error("audit summary failed", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "internal_error", "audit summary is unavailable")
}

func chiRequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
