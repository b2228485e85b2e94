package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// FunctionCall names a tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall represents a native tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// Options are decoding parameters sent with every request.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// DefaultOptions are tuned for deterministic structured output from a
// small local model.
func DefaultOptions() Options {
	return Options{Temperature: 0.1, NumCtx: 16384, NumPredict: 4096}
}

// ChatRequest is one provider-neutral chat completion request.
type ChatRequest struct {
	Model    string
	Messages []Message
	Options  Options

	// KeepAlive tells Ollama how long to keep the model loaded,
	// e.g. "10m". Ignored by other providers.
	KeepAlive string

	// Tools are optional native tool definitions in the OpenAI function
	// schema shape. Most small models ignore them.
	Tools []map[string]any
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries (ollama.go,
// openai.go).
type ChatResponse struct {
	Model   string
	Message Message

	// Thinking carries reasoning the backend returned separately from
	// the content, when it does so.
	Thinking string

	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
}
