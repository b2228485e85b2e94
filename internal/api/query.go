package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nugget/datalookup/internal/agent"
	"github.com/nugget/datalookup/internal/history"
	"github.com/nugget/datalookup/internal/suggest"
)

// maxBodyBytes caps a query request body.
const maxBodyBytes = 1 << 20

// statusClientClosed is the de facto status for a client that went away
// before the answer was ready.
const statusClientClosed = 499

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Question            string          `json:"question" validate:"required"`
	Role                string          `json:"role" validate:"required,known_role"`
	ConversationHistory []history.Entry `json:"conversation_history"`
}

// QueryResponse is a successful answer.
type QueryResponse struct {
	RequestID     string                 `json:"request_id"`
	Question      string                 `json:"question"`
	Answer        string                 `json:"answer"`
	AnswerHTML    string                 `json:"answer_html"`
	Role          string                 `json:"role"`
	Metadata      agent.Metadata         `json:"metadata"`
	Suggestions   []string               `json:"suggestions"`
	Clarification *suggest.Clarification `json:"clarification"`
	ChartData     *agent.ChartData       `json:"chart_data"`
	TableData     *agent.TableData       `json:"table_data"`
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

// renderHTML converts the markdown answer to an HTML fragment. Raw HTML
// in the answer is dropped by goldmark's default renderer.
func renderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// handleQuery answers one question.
// POST /api/query {"question": "list all expenses", "role": "ADMIN"}
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	req.Role = strings.ToUpper(strings.TrimSpace(req.Role))
	if req.Role == "" {
		req.Role = DefaultRole
	}

	if err := s.validate.Struct(req); err != nil {
		code, errType, msg := validationError(err, req.Role)
		s.errorResponse(w, code, errType, msg)
		return
	}

	if err := s.slots.Acquire(r.Context(), 1); err != nil {
		s.errorResponse(w, statusClientClosed, string(agent.ReasonCanceled), agentFailureMessage(agent.ReasonCanceled))
		return
	}
	defer s.slots.Release(1)

	res, err := s.agent.Answer(r.Context(), agent.Request{
		Question: req.Question,
		Role:     req.Role,
		History:  history.FromEntries(req.ConversationHistory),
	})
	if err != nil {
		s.answerError(w, r, req, err)
		return
	}

	html, err := renderHTML(res.Answer)
	if err != nil {
		s.logger.Warn("markdown rendering failed", "request_id", res.RequestID, "error", err)
		html = ""
	}

	w.Header().Set("X-Request-Id", res.RequestID)
	writeJSON(w, http.StatusOK, QueryResponse{
		RequestID:     res.RequestID,
		Question:      res.Question,
		Answer:        res.Answer,
		AnswerHTML:    html,
		Role:          res.Role,
		Metadata:      res.Metadata,
		Suggestions:   nonNil(res.Suggestions),
		Clarification: res.Clarification,
		ChartData:     res.ChartData,
		TableData:     res.TableData,
	}, s.logger)
}

// validationError maps the first failed rule onto a status and message.
func validationError(err error, role string) (int, string, string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Question":
			return http.StatusBadRequest, "invalid_request_error", "Question cannot be empty"
		case "Role":
			return http.StatusForbidden, "forbidden", fmt.Sprintf("Role %q is not authorized to use the AI assistant", role)
		}
	}
	return http.StatusBadRequest, "invalid_request_error", "invalid request"
}

// answerError writes the response for an Answer error.
func (s *Server) answerError(w http.ResponseWriter, r *http.Request, req QueryRequest, err error) {
	switch {
	case errors.Is(err, agent.ErrEmptyQuestion):
		s.errorResponse(w, http.StatusBadRequest, "invalid_request_error", "Question cannot be empty")
		return
	case errors.Is(err, agent.ErrUnknownRole):
		s.errorResponse(w, http.StatusForbidden, "forbidden", fmt.Sprintf("Role %q is not authorized to use the AI assistant", req.Role))
		return
	}

	var f *agent.Failure
	if !errors.As(err, &f) {
		s.logger.Error("agent failed", "role", req.Role, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", agentFailureMessage(""))
		return
	}

	code := statusForReason(f.Reason)
	s.logger.Warn("question not answered",
		"role", req.Role,
		"reason", f.Reason,
		"iterations", f.Iterations,
		"status", code,
		"http_request_id", chiRequestID(r),
		"error", f.Err,
	)
	s.errorResponse(w, code, string(f.Reason), f.Message())
}

func statusForReason(reason agent.Reason) int {
	switch reason {
	case agent.ReasonBackendUnreachable:
		return http.StatusServiceUnavailable
	case agent.ReasonEmptyGeneration, agent.ReasonBackendError:
		return http.StatusBadGateway
	case agent.ReasonTimeout:
		return http.StatusGatewayTimeout
	case agent.ReasonLoopExhausted:
		return http.StatusUnprocessableEntity
	case agent.ReasonCanceled:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

func agentFailureMessage(reason agent.Reason) string {
	return (&agent.Failure{Reason: reason}).Message()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
