package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestResolveOllamaBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		endpoint string
		want     string
	}{
		{"explicit base", "http://gpu:11434/", "http://other:11434/api/generate", "http://gpu:11434"},
		{"generate endpoint", "", "http://gpu:11434/api/generate", "http://gpu:11434"},
		{"chat endpoint", "", "http://gpu:11434/api/chat", "http://gpu:11434"},
		{"endpoint without suffix", "", "http://gpu:11434", "http://gpu:11434"},
		{"nothing configured", "", "", DefaultOllamaURL},
		{"whitespace only", "  ", " ", DefaultOllamaURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveOllamaBaseURL(tt.base, tt.endpoint); got != tt.want {
				t.Errorf("ResolveOllamaBaseURL(%q, %q) = %q, want %q", tt.base, tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// Real Ollama response shape for a thinking-capable model.
		w.Write([]byte(`{
			"model": "qwen3:4b",
			"created_at": "2026-02-11T15:00:00.123456789Z",
			"message": {
				"role": "assistant",
				"content": "There are 12 expense files.",
				"thinking": "count the rows"
			},
			"done": true,
			"total_duration": 1234567890,
			"prompt_eval_count": 42,
			"eval_count": 15
		}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:     "qwen3:4b",
		Messages:  []Message{{Role: RoleUser, Content: "how many expense files?"}},
		Options:   DefaultOptions(),
		KeepAlive: "10m",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got.Stream {
		t.Error("request should not stream")
	}
	if got.KeepAlive != "10m" {
		t.Errorf("keep_alive = %q, want 10m", got.KeepAlive)
	}
	if got.Options.Temperature != 0.1 || got.Options.NumCtx != 16384 || got.Options.NumPredict != 4096 {
		t.Errorf("options = %+v", got.Options)
	}
	if resp.Message.Content != "There are 12 expense files." {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if resp.Thinking != "count the rows" {
		t.Errorf("Thinking = %q", resp.Thinking)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 15 {
		t.Errorf("tokens = %d/%d, want 42/15", resp.InputTokens, resp.OutputTokens)
	}
	if resp.TotalDuration != 1234567890*time.Nanosecond {
		t.Errorf("TotalDuration = %v", resp.TotalDuration)
	}
}

func TestOllamaClient_NativeToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"model": "qwen3:4b",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "sql_db_query", "arguments": {"query": "SELECT 1"}}}]
			},
			"done": true
		}`))
	}))
	defer srv.Close()

	resp, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), ChatRequest{Model: "qwen3:4b"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.Function.Name != "sql_db_query" || call.Function.Arguments["query"] != "SELECT 1" {
		t.Errorf("tool call = %+v", call)
	}
}

func TestOllamaClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model \"nope\" not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), ChatRequest{Model: "nope"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "not found") {
		t.Errorf("Body = %q", apiErr.Body)
	}
	if errors.Is(err, ErrBackendUnreachable) {
		t.Error("API errors must not be reported as unreachable")
	}
}

func TestOllamaClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewOllamaClient(url, nil)
	_, err := c.Chat(context.Background(), ChatRequest{Model: "qwen3:4b"})
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Fatalf("Chat error = %v, want ErrBackendUnreachable", err)
	}
	if !strings.Contains(err.Error(), url) {
		t.Errorf("error should name the server address, got %v", err)
	}

	if err := c.Ping(context.Background()); !errors.Is(err, ErrBackendUnreachable) {
		t.Errorf("Ping error = %v, want ErrBackendUnreachable", err)
	}
}

func TestOllamaClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewOllamaClient(srv.URL, nil).Chat(ctx, ChatRequest{Model: "qwen3:4b"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if errors.Is(err, ErrBackendUnreachable) {
		t.Error("a slow backend is not an unreachable backend")
	}
}

func TestOllamaClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[{"name":"qwen3:4b"},{"name":"llama3.2:3b"}]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	names, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(names) != 2 || names[0] != "qwen3:4b" {
		t.Errorf("names = %v", names)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
