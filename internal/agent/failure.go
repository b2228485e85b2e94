package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/datalookup/internal/database"
	"github.com/nugget/datalookup/internal/llm"
	"github.com/nugget/datalookup/internal/prompts"
)

// Reason names why an invocation failed.
type Reason string

// Failure reasons. Each has its own user-facing message.
const (
	ReasonBackendUnreachable Reason = prompts.FailureBackendUnreachable
	ReasonEmptyGeneration    Reason = prompts.FailureEmptyGeneration
	ReasonBackendError       Reason = prompts.FailureBackendError
	ReasonLoopExhausted      Reason = prompts.FailureLoopExhausted
	ReasonTimeout            Reason = prompts.FailureTimeout
	ReasonCanceled           Reason = prompts.FailureCanceled
)

// Caller errors. These are returned directly, not as a *Failure.
var (
	ErrEmptyQuestion = errors.New("agent: question cannot be empty")
	ErrUnknownRole   = errors.New("agent: unknown role")
)

// ErrParseFailure marks a model reply holding neither a tool call nor a
// final answer. It never ends an invocation on its own; the loop turns it
// into a corrective observation.
var ErrParseFailure = errors.New("agent: unparseable model output")

// ErrLoopExhausted is the cause of a ReasonLoopExhausted failure.
var ErrLoopExhausted = errors.New("agent: iteration limit reached without a final answer")

// Failure is returned by [Agent.Answer] when no answer could be produced.
type Failure struct {
	Reason Reason
	Err    error
	// Turns recorded before the failure.
	Turns      []Turn
	Iterations int
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("agent: %s: %v", f.Reason, f.Err)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// Message returns the text shown to the user in place of an answer.
func (f *Failure) Message() string {
	return prompts.FailureMessage(string(f.Reason))
}

// classify maps a fatal error from the model or a tool onto a reason.
func classify(err error) Reason {
	var apiErr *llm.APIError
	var qe *database.QueryError
	switch {
	case errors.Is(err, llm.ErrBackendUnreachable):
		return ReasonBackendUnreachable
	case errors.Is(err, llm.ErrEmptyGeneration):
		return ReasonEmptyGeneration
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &qe) && qe.Kind == database.KindTimeout:
		return ReasonTimeout
	case errors.As(err, &apiErr):
		return ReasonBackendError
	default:
		return ReasonBackendError
	}
}
