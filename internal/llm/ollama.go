package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/datalookup/internal/httpkit"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// ResolveOllamaBaseURL picks the Ollama base URL. An explicit base wins;
// otherwise a full generation endpoint such as
// http://host:11434/api/generate is cut back to its base; otherwise the
// local default applies.
func ResolveOllamaBaseURL(base, endpoint string) string {
	if base = strings.TrimSpace(base); base != "" {
		return strings.TrimRight(base, "/")
	}
	if endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/"); endpoint != "" {
		for _, suffix := range []string{"/api/generate", "/api/chat"} {
			endpoint = strings.TrimSuffix(endpoint, suffix)
		}
		return endpoint
	}
	return DefaultOllamaURL
}

// OllamaClient is a client for the Ollama API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client. Request deadlines come
// from the caller's context.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(),
		logger:     logger.With("provider", "ollama"),
	}
}

// BaseURL returns the server address requests go to.
func (c *OllamaClient) BaseURL() string { return c.baseURL }

type ollamaRequest struct {
	Model     string           `json:"model"`
	Messages  []ollamaMessage  `json:"messages"`
	Stream    bool             `json:"stream"`
	Tools     []map[string]any `json:"tools,omitempty"`
	Options   Options          `json:"options"`
	KeepAlive string           `json:"keep_alive,omitempty"`
}

type ollamaMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Chat sends a non-streaming chat completion request to /api/chat.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]ollamaMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollamaMessage{Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls}
	}
	body := ollamaRequest{
		Model:     req.Model,
		Messages:  msgs,
		Tools:     req.Tools,
		Options:   req.Options,
		KeepAlive: req.KeepAlive,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "chat request", "model", req.Model, "body", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 2048)}
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "chat response",
		"model", out.Model,
		"content", out.Message.Content,
		"thinking_len", len(out.Message.Thinking),
	)

	return &ChatResponse{
		Model: out.Model,
		Message: Message{
			Role:      RoleAssistant,
			Content:   out.Message.Content,
			ToolCalls: out.Message.ToolCalls,
		},
		Thinking:      out.Message.Thinking,
		InputTokens:   out.PromptEvalCount,
		OutputTokens:  out.EvalCount,
		TotalDuration: time.Duration(out.TotalDuration),
	}, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// ListModels returns the names of the models the server has pulled.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

func (c *OllamaClient) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ollama: %w", ctxErr)
	}
	if httpkit.IsUnreachable(err) {
		return fmt.Errorf("%w: is Ollama running at %s? %v", ErrBackendUnreachable, c.baseURL, err)
	}
	return fmt.Errorf("ollama: request failed: %w", err)
}
