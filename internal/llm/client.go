// Package llm talks to the model backend. A [Client] is one transport
// (Ollama or an OpenAI-compatible endpoint); a [Completer] wraps a client
// with the policies the agent relies on: when to ask the model not to
// reason, the single retry on an empty generation, and separation of
// reasoning from content.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

var (
	// ErrBackendUnreachable means no connection to the inference server
	// could be made. It is never retried.
	ErrBackendUnreachable = errors.New("llm: backend unreachable")

	// ErrEmptyGeneration means the backend produced no usable content,
	// even after the one permitted retry.
	ErrEmptyGeneration = errors.New("llm: empty generation")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: %s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}
