package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrToolUnavailable
		want string
	}{
		{
			name: "no alternatives",
			err:  &ErrToolUnavailable{ToolName: "web_search"},
			want: `tool "web_search" is not available`,
		},
		{
			name: "with alternatives",
			err:  &ErrToolUnavailable{ToolName: "sql_db_run", Available: []string{"sql_db_list_tables", "sql_db_query"}},
			want: `tool "sql_db_run" is not available; use one of: sql_db_list_tables, sql_db_query`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("tool execution: %w", &ErrToolUnavailable{ToolName: "exec"})

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "exec" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "exec")
	}
}

func TestErrInvalidInput_Error(t *testing.T) {
	err := &ErrInvalidInput{ToolName: ToolQuery, Reason: "query is required"}
	want := "invalid input for sql_db_query: query is required"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var target *ErrToolUnavailable
	if errors.As(err, &target) {
		t.Error("errors.As should not match *ErrToolUnavailable")
	}
}
