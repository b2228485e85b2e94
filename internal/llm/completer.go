package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nugget/datalookup/internal/extract"
)

const (
	// NoReasoningDirective asks qwen3-style models to skip deliberation.
	NoReasoningDirective = "/no_think"

	// DirectiveMaxChars is the longest prompt, in characters across all
	// messages, that may carry NoReasoningDirective. Past this length
	// the backend answers the directive with an empty body, so longer
	// prompts run with full reasoning and rely on stripping instead.
	DirectiveMaxChars = 200
)

// CompleterConfig holds the per-deployment model settings.
type CompleterConfig struct {
	Model     string
	Options   Options
	KeepAlive string

	// SuppressReasoning enables NoReasoningDirective for short prompts.
	SuppressReasoning bool

	// Timeout bounds each backend call. Zero means the caller's context
	// is the only deadline.
	Timeout time.Duration

	// Tools are passed through as native tool definitions.
	Tools []map[string]any
}

// Completion is the cleaned outcome of one Send.
type Completion struct {
	// Content is the model output with every reasoning region removed.
	Content string
	// Reasoning collects the backend's separate thinking field and every
	// stripped region, for logging only.
	Reasoning string
	// ToolCalls are native tool calls, when the backend produced any.
	ToolCalls []ToolCall

	Model        string
	Attempts     int
	Directive    bool
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

func (c *Completion) empty() bool {
	return strings.TrimSpace(c.Content) == "" && len(c.ToolCalls) == 0
}

// Completer applies the reasoning and retry policies on top of a Client.
// It holds no per-call state and is safe for concurrent use.
type Completer struct {
	client Client
	cfg    CompleterConfig
	logger *slog.Logger
}

// NewCompleter creates a Completer. Zero-valued options fall back to
// [DefaultOptions].
func NewCompleter(client Client, cfg CompleterConfig, logger *slog.Logger) *Completer {
	if cfg.Options == (Options{}) {
		cfg.Options = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Completer{client: client, cfg: cfg, logger: logger}
}

// Model returns the configured model id.
func (c *Completer) Model() string { return c.cfg.Model }

// Ping checks that the backend is reachable.
func (c *Completer) Ping(ctx context.Context) error { return c.client.Ping(ctx) }

// PromptLength is the total character count of all message contents.
func PromptLength(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}

// DirectiveApplies reports whether NoReasoningDirective would be added
// to messages.
func (c *Completer) DirectiveApplies(messages []Message) bool {
	return c.cfg.SuppressReasoning && PromptLength(messages) <= DirectiveMaxChars
}

// Send sends messages and returns cleaned output.
//
// Errors wrap ErrBackendUnreachable when no connection could be made,
// ErrEmptyGeneration when the output is still empty after one retry of
// the unmodified messages, *APIError on non-2xx responses, and the
// context error on timeout or cancellation. Only the empty case is
// retried.
func (c *Completer) Send(ctx context.Context, messages []Message) (*Completion, error) {
	if len(messages) == 0 {
		return nil, errors.New("llm: no messages to send")
	}

	promptLen := PromptLength(messages)
	directive := c.DirectiveApplies(messages)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "llm.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.cfg.Model),
		attribute.Int("llm.prompt_chars", promptLen),
		attribute.Bool("llm.directive", directive),
	)

	start := time.Now()
	first := messages
	if directive {
		first = withDirective(messages)
	}

	comp, err := c.attempt(ctx, first)
	attempts := 1
	if err == nil && comp.empty() {
		retriesTotal.Inc()
		c.logger.Warn("empty generation, retrying once",
			"model", c.cfg.Model,
			"prompt_chars", promptLen,
			"directive", directive,
		)
		comp, err = c.attempt(ctx, messages)
		attempts = 2
		if err == nil && comp.empty() {
			err = fmt.Errorf("%w: model %s returned no content after %d attempts", ErrEmptyGeneration, c.cfg.Model, attempts)
		}
	}
	span.SetAttributes(attribute.Int("llm.attempts", attempts))

	if err != nil {
		recordFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, classifyError(err))
		c.logger.Debug("model send failed", "model", c.cfg.Model, "attempts", attempts, "error", err)
		return nil, err
	}

	comp.Attempts = attempts
	comp.Directive = directive
	comp.Duration = time.Since(start)
	c.logger.Debug("model send complete",
		"model", comp.Model,
		"attempts", attempts,
		"content_len", len(comp.Content),
		"reasoning_len", len(comp.Reasoning),
		"tool_calls", len(comp.ToolCalls),
		"elapsed", comp.Duration.Round(time.Millisecond),
	)
	return comp, nil
}

func (c *Completer) attempt(ctx context.Context, messages []Message) (*Completion, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.client.Chat(ctx, ChatRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		Options:   c.cfg.Options,
		KeepAlive: c.cfg.KeepAlive,
		Tools:     c.cfg.Tools,
	})
	recordCall(time.Since(start), resp, err)
	if err != nil {
		return nil, err
	}

	content, reasoning := extract.SplitReasoning(resp.Message.Content)
	content = strings.NewReplacer(extract.ReasoningOpen, "", extract.ReasoningClose, "").Replace(content)

	var thoughts []string
	if s := strings.TrimSpace(resp.Thinking); s != "" {
		thoughts = append(thoughts, s)
	}
	if reasoning != "" {
		thoughts = append(thoughts, reasoning)
	}

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Completion{
		Content:      strings.TrimSpace(content),
		Reasoning:    strings.Join(thoughts, "\n\n"),
		ToolCalls:    resp.Message.ToolCalls,
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

// withDirective returns a copy of messages with NoReasoningDirective
// appended to the last user message.
func withDirective(messages []Message) []Message {
	out := append([]Message(nil), messages...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == RoleUser {
			out[i].Content = strings.TrimRight(out[i].Content, " \n") + " " + NoReasoningDirective
			return out
		}
	}
	return append(out, Message{Role: RoleUser, Content: NoReasoningDirective})
}
