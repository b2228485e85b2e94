package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/datalookup/internal/httpkit"
)

// DefaultGroqURL is the OpenAI-compatible base URL used for Groq.
const DefaultGroqURL = "https://api.groq.com/openai/v1"

// OpenAIClient is a client for OpenAI-compatible chat completion APIs.
// It is used for hosted inference (Groq) when an API key is configured.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	provider   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for the given base URL. provider is a
// short name used in logs and errors.
func NewOpenAIClient(provider, baseURL, apiKey string, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultGroqURL
	}
	if provider == "" {
		provider = "openai"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		provider:   provider,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("provider", provider),
	}
}

type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Reasoning string           `json:"reasoning,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

// openaiToolCall differs from ToolCall on the wire: arguments arrive as
// a JSON-encoded string.
type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request to /chat/completions.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]openaiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openaiMessage{Role: m.Role, Content: m.Content}
	}
	body := openaiRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.NumPredict,
		Tools:       req.Tools,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.provider, err)
	}
	c.logger.Log(ctx, LevelTrace, "chat request", "model", req.Model, "messages", len(msgs))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: c.provider, StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 2048)}
	}

	var out openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", c.provider, err)
	}

	result := &ChatResponse{
		Model:        out.Model,
		Message:      Message{Role: RoleAssistant},
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}
	if len(out.Choices) == 0 {
		return result, nil
	}

	choice := out.Choices[0].Message
	result.Message.Content = choice.Content
	result.Thinking = choice.Reasoning
	for _, tc := range choice.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				c.logger.Warn("dropping tool call with malformed arguments",
					"tool", tc.Function.Name, "error", err)
				continue
			}
		}
		result.Message.ToolCalls = append(result.Message.ToolCalls, ToolCall{
			ID:       tc.ID,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	return result, nil
}

// Ping lists models, which checks reachability and the API key at once.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.provider, err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: c.provider, StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}
	return nil
}

func (c *OpenAIClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *OpenAIClient) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", c.provider, ctxErr)
	}
	if httpkit.IsUnreachable(err) {
		return fmt.Errorf("%w: %s at %s: %v", ErrBackendUnreachable, c.provider, c.baseURL, err)
	}
	return fmt.Errorf("%s: request failed: %w", c.provider, err)
}
