package tools

import (
	"fmt"
	"strings"
)

// ErrToolUnavailable is returned when the model names a tool that is not
// in the registry. It is not fatal: the agent relays the message so the
// model can pick a real tool on its next turn.
type ErrToolUnavailable struct {
	ToolName  string
	Available []string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("tool %q is not available", e.ToolName)
	}
	return fmt.Sprintf("tool %q is not available; use one of: %s", e.ToolName, strings.Join(e.Available, ", "))
}

// ErrInvalidInput is returned when a tool's input is missing or has the
// wrong shape. Like [ErrToolUnavailable] it becomes an observation.
type ErrInvalidInput struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid input for %s: %s", e.ToolName, e.Reason)
}
