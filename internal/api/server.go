// Package api implements the datalookup HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"

	"github.com/nugget/datalookup/internal/agent"
	"github.com/nugget/datalookup/internal/audit"
	"github.com/nugget/datalookup/internal/connwatch"
)

// DefaultRole is used when a request names no role.
const DefaultRole = "ADMIN"

// Answerer is the agent as seen by the HTTP layer.
type Answerer interface {
	Answer(ctx context.Context, req agent.Request) (*agent.Result, error)
	HasRole(role string) bool
	Roles() []string
	Model() string
}

// AuditSummarizer aggregates the audit log.
type AuditSummarizer interface {
	Summary(ctx context.Context, start, end time.Time) (*audit.Summary, error)
	SummaryByRole(ctx context.Context, start, end time.Time) (map[string]*audit.Summary, error)
	SummaryByRule(ctx context.Context, start, end time.Time) (map[string]*audit.Summary, error)
}

// Config wires a Server.
type Config struct {
	Address string
	Agent   Answerer
	// Watch reports backend and database reachability on /health.
	// Optional.
	Watch *connwatch.Manager
	// Audit serves /api/audit/summary. Optional; the route answers 404
	// when nil.
	Audit AuditSummarizer
	// MaxConcurrent bounds agent invocations in flight. Requests over
	// the bound wait for a slot until their context ends.
	MaxConcurrent int
	Logger        *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	agent    Answerer
	watch    *connwatch.Manager
	audit    AuditSummarizer
	slots    *semaphore.Weighted
	validate *validator.Validate
	logger   *slog.Logger
	server   *http.Server
	address  string
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}

	s := &Server{
		agent:    cfg.Agent,
		watch:    cfg.Watch,
		audit:    cfg.Audit,
		slots:    semaphore.NewWeighted(int64(limit)),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		address:  cfg.Address,
	}
	s.validate.RegisterValidation("known_role", func(fl validator.FieldLevel) bool {
		return s.agent.HasRole(fl.Field().String())
	})
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)

	r.Post("/api/query", s.handleQuery)
	r.Get("/api/audit/summary", s.handleAuditSummary)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return otelhttp.NewHandler(r, "datalookup.http")
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Answers can take several model round trips.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "address", s.address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"http_request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, errType, message string) {
	writeJSON(w, code, errorBody{Error: errorDetail{
		Message: message,
		Type:    errType,
		Code:    code,
	}}, s.logger)
}
