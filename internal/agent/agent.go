// Package agent implements the bounded reasoning loop that turns a
// question into a read-only answer.
//
// Each invocation alternates model calls with tool executions:
//
//	Thinking -> ActionDispatch -> Observing -> Thinking ... -> Done | Failed
//
// The loop owns no state between invocations. Conversation history is
// supplied by the caller and never written back.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nugget/datalookup/internal/history"
	"github.com/nugget/datalookup/internal/llm"
	"github.com/nugget/datalookup/internal/prompts"
	"github.com/nugget/datalookup/internal/suggest"
	"github.com/nugget/datalookup/internal/tools"
)

// DefaultMaxIterations bounds the loop when Config.MaxIterations is unset.
const DefaultMaxIterations = 10

// Completer sends a message sequence to the model.
type Completer interface {
	Send(ctx context.Context, messages []llm.Message) (*llm.Completion, error)
	Model() string
}

// Config tunes the loop.
type Config struct {
	MaxIterations int
	// NativeTools offers tools through the backend's tool calling API
	// and accepts plain prose as the final answer.
	NativeTools bool
}

// Role binds a role name to its tool registry and prompt.
type Role struct {
	Name     string
	Registry *tools.Registry
	Prompt   prompts.SystemParams
}

// Request is one question.
type Request struct {
	Question string
	Role     string
	History  history.Window
	// RequestID correlates logs and audit records. Generated when empty.
	RequestID string
}

// Turn is one iteration of the loop.
type Turn struct {
	Iteration   int    `json:"iteration"`
	Thought     string `json:"thought,omitempty"`
	Action      string `json:"action,omitempty"`
	Input       string `json:"input,omitempty"`
	FinalAnswer string `json:"final_answer,omitempty"`
	Observation string `json:"observation,omitempty"`

	// Invocation is the tool call, nil for final answers and parse
	// failures.
	Invocation *tools.Invocation `json:"-"`
}

// Metadata summarizes the queries behind an answer.
type Metadata struct {
	tools.MetadataSnapshot
	TotalResponseTimeMS float64 `json:"total_response_time_ms"`
}

// Result is a successful invocation.
type Result struct {
	RequestID     string                 `json:"request_id"`
	Question      string                 `json:"question"`
	Role          string                 `json:"role"`
	Answer        string                 `json:"answer"`
	Turns         []Turn                 `json:"turns,omitempty"`
	Iterations    int                    `json:"iterations"`
	Metadata      Metadata               `json:"metadata"`
	Suggestions   []string               `json:"suggestions"`
	Clarification *suggest.Clarification `json:"clarification"`
	ChartData     *ChartData             `json:"chart_data"`
	TableData     *TableData             `json:"table_data"`
}

// Agent answers questions for a fixed set of roles. It is safe for
// concurrent use; each Answer call is independent.
type Agent struct {
	completer Completer
	roles     map[string]Role
	suggest   *suggest.Engine
	cfg       Config
	logger    *slog.Logger
}

// New creates an agent. suggester may be nil to disable suggestions and
// clarification.
func New(completer Completer, roles []Role, suggester *suggest.Engine, cfg Config, logger *slog.Logger) (*Agent, error) {
	if completer == nil {
		return nil, errors.New("agent: completer is required")
	}
	if len(roles) == 0 {
		return nil, errors.New("agent: at least one role is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]Role, len(roles))
	for _, r := range roles {
		name := normalizeRole(r.Name)
		if name == "" || r.Registry == nil {
			return nil, fmt.Errorf("agent: role %q needs a name and a tool registry", r.Name)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("agent: duplicate role %q", name)
		}
		r.Name = name
		r.Prompt.Role = name
		r.Prompt.Tables = r.Registry.Catalog().Tables()
		r.Prompt.Tools = r.Registry.Describe()
		r.Prompt.NativeTools = cfg.NativeTools
		byName[name] = r
	}

	return &Agent{
		completer: completer,
		roles:     byName,
		suggest:   suggester,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

func normalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

// Roles returns the configured role names, sorted.
func (a *Agent) Roles() []string {
	names := make([]string, 0, len(a.roles))
	for name := range a.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasRole reports whether role is configured.
func (a *Agent) HasRole(role string) bool {
	_, ok := a.roles[normalizeRole(role)]
	return ok
}

// Model returns the model id answers come from.
func (a *Agent) Model() string { return a.completer.Model() }

// Answer runs the loop for one question.
//
// Caller mistakes return ErrEmptyQuestion or ErrUnknownRole. Every other
// error is a *Failure carrying a distinct Reason.
func (a *Agent) Answer(ctx context.Context, req Request) (*Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	role, ok := a.roles[normalizeRole(req.Role)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, req.Role)
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := a.logger.With("request_id", requestID, "role", role.Name)

	if a.suggest != nil {
		if c := a.suggest.Clarify(question, role.Name); c != nil {
			invocationsTotal.WithLabelValues("clarification").Inc()
			logger.Info("question needs clarification", "question", question)
			return &Result{
				RequestID:     requestID,
				Question:      question,
				Role:          role.Name,
				Answer:        c.Clarification,
				Metadata:      Metadata{MetadataSnapshot: tools.MetadataSnapshot{TablesQueried: []string{}}},
				Suggestions:   c.Options,
				Clarification: c,
			}, nil
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.request_id", requestID),
		attribute.String("agent.role", role.Name),
	)

	start := time.Now()
	meta := &tools.Metadata{}
	ctx = tools.WithMetadata(tools.WithRequestID(ctx, requestID), meta)

	run := &invocation{
		agent:    a,
		role:     role,
		logger:   logger,
		messages: a.seedMessages(role, req.History, question),
	}
	answer, err := run.loop(ctx)

	elapsed := time.Since(start)
	answerDuration.Observe(elapsed.Seconds())
	iterations.Observe(float64(run.iteration))
	span.SetAttributes(attribute.Int("agent.iterations", run.iteration))

	if err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			f = &Failure{Reason: classify(err), Err: err}
		}
		f.Turns = run.turns
		f.Iterations = run.iteration
		invocationsTotal.WithLabelValues(string(f.Reason)).Inc()
		span.RecordError(f)
		span.SetStatus(codes.Error, string(f.Reason))
		logger.Warn("agent failed",
			"reason", f.Reason,
			"iterations", run.iteration,
			"elapsed", elapsed.Round(time.Millisecond),
			"error", f.Err,
		)
		return nil, f
	}

	chart, table, answer := extractVisuals(answer)
	snap := meta.Snapshot()
	result := &Result{
		RequestID:  requestID,
		Question:   question,
		Role:       role.Name,
		Answer:     answer,
		Turns:      run.turns,
		Iterations: run.iteration,
		Metadata: Metadata{
			MetadataSnapshot:    snap,
			TotalResponseTimeMS: math.Round(float64(elapsed.Microseconds())/100) / 10,
		},
		Suggestions: []string{},
		ChartData:   chart,
		TableData:   table,
	}
	if a.suggest != nil {
		result.Suggestions = a.suggest.FollowUps(question, snap.TablesQueried, role.Name)
	}

	invocationsTotal.WithLabelValues("answered").Inc()
	logger.Info("agent answered",
		"iterations", run.iteration,
		"queries", snap.QueryCount,
		"blocked", snap.BlockedCount,
		"rows", snap.TotalRows,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return result, nil
}

// seedMessages builds the opening sequence: system prompt, prior
// exchanges oldest first, then the question.
func (a *Agent) seedMessages(role Role, window history.Window, question string) []llm.Message {
	params := role.Prompt
	params.Now = time.Now()

	past := window.Messages()
	msgs := make([]llm.Message, 0, len(past)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompts.System(params)})
	for _, m := range past {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: question})
}

// invocation is the mutable state of one Answer call.
type invocation struct {
	agent     *Agent
	role      Role
	logger    *slog.Logger
	messages  []llm.Message
	turns     []Turn
	iteration int
}

func (inv *invocation) loop(ctx context.Context) (string, error) {
	for inv.iteration < inv.agent.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		inv.iteration++

		// Thinking.
		comp, err := inv.agent.completer.Send(ctx, inv.messages)
		if err != nil {
			return "", err
		}
		st, perr := parseStep(comp, inv.agent.cfg.NativeTools)
		turn := Turn{Iteration: inv.iteration, Thought: st.thought}

		switch {
		case perr != nil:
			parseFailuresTotal.Inc()
			turn.Observation = prompts.ParseFailure(strings.TrimPrefix(perr.Error(), ErrParseFailure.Error()+": "))
			inv.logger.Debug("unparseable model reply", "iteration", inv.iteration, "error", perr)
			inv.observe(turn, st.echo, turn.Observation)
			continue

		case st.hasFinal:
			if st.final == "" {
				turn.Observation = prompts.ParseFailure("the final answer was empty")
				inv.observe(turn, st.echo, turn.Observation)
				continue
			}
			turn.FinalAnswer = st.final
			inv.turns = append(inv.turns, turn)
			inv.logger.Debug("final answer", "iteration", inv.iteration)
			return st.final, nil

		case st.toolErr != nil:
			turn.Observation = prompts.ToolError(st.toolErr)
			inv.observe(turn, st.echo, turn.Observation)
			continue
		}

		// ActionDispatch.
		call := *st.invocation
		turn.Invocation = &call
		turn.Action = call.Name()
		turn.Input = call.Table + call.SQL

		observation, err := inv.dispatch(ctx, call)
		if err != nil {
			inv.turns = append(inv.turns, turn)
			return "", err
		}

		// Observing.
		turn.Observation = observation
		inv.observe(turn, st.echo, observation)
	}
	return "", &Failure{Reason: ReasonLoopExhausted, Err: ErrLoopExhausted}
}

// dispatch runs one tool call. Recoverable problems come back as the
// observation; the error is reserved for conditions that end the
// invocation.
func (inv *invocation) dispatch(ctx context.Context, call tools.Invocation) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name()))

	start := time.Now()
	out, err := inv.role.Registry.Run(ctx, call)
	inv.logger.Info("tool executed",
		"iteration", inv.iteration,
		"tool", call.Name(),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"error", err,
	)
	if err == nil {
		return prompts.Observation(out), nil
	}

	var unavailable *tools.ErrToolUnavailable
	var invalid *tools.ErrInvalidInput
	if errors.As(err, &unavailable) || errors.As(err, &invalid) {
		return prompts.ToolError(err), nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "tool failed")
	return "", err
}

// observe records a turn and feeds the assistant reply and the
// observation back into the conversation.
func (inv *invocation) observe(turn Turn, echo, observation string) {
	inv.turns = append(inv.turns, turn)
	if echo == "" {
		echo = "(no output)"
	}
	inv.messages = append(inv.messages,
		llm.Message{Role: llm.RoleAssistant, Content: echo},
		llm.Message{Role: llm.RoleUser, Content: observation},
	)
}
