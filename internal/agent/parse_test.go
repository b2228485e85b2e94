package agent

import (
	"errors"
	"testing"

	"github.com/nugget/datalookup/internal/llm"
	"github.com/nugget/datalookup/internal/tools"
)

func TestParseStep(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		plainFinal bool
		wantKind   tools.Kind
		wantInv    bool
		wantFinal  string
		wantSQL    string
		wantTable  string
	}{
		{
			name:     "json action",
			content:  `{"thought": "t", "action": "sql_db_schema", "action_input": "Expenses"}`,
			wantInv:  true,
			wantKind: tools.KindGetSchema, wantTable: "Expenses",
		},
		{
			name:     "json action in prose and fence",
			content:  "Let me check.\n```json\n{\"action\": \"sql_db_query\", \"action_input\": {\"query\": \"SELECT 1\"}}\n```",
			wantInv:  true,
			wantKind: tools.KindRunQuery, wantSQL: "SELECT 1",
		},
		{
			name:     "tool_call tag shape",
			content:  `<tool_call>{"name": "sql_db_list_tables", "arguments": {}}</tool_call>`,
			wantInv:  true,
			wantKind: tools.KindListTables,
		},
		{
			name:     "double-encoded input",
			content:  `{"action": "sql_db_query_checker", "action_input": "{\"query\": \"SELECT 2\"}"}`,
			wantInv:  true,
			wantKind: tools.KindCheckQuery, wantSQL: "SELECT 2",
		},
		{
			name:      "json final answer",
			content:   `{"thought": "done", "final_answer": "42 rows"}`,
			wantFinal: "42 rows",
		},
		{
			name:      "final answer line",
			content:   "Thought: I know it now.\nFinal Answer: There are 3 projects.",
			wantFinal: "There are 3 projects.",
		},
		{
			name:      "bold final answer line",
			content:   "**Final Answer:** Two trucks are in maintenance.",
			wantFinal: "Two trucks are in maintenance.",
		},
		{
			name:     "bare sql",
			content:  "I will run:\n```sql\nSELECT * FROM \"Project\";\n```",
			wantInv:  true,
			wantKind: tools.KindRunQuery, wantSQL: `SELECT * FROM "Project"`,
		},
		{
			name:       "prose with native tools",
			content:    "There are 2 projects.",
			plainFinal: true,
			wantFinal:  "There are 2 projects.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := parseStep(&llm.Completion{Content: tt.content}, tt.plainFinal)
			if err != nil {
				t.Fatalf("parseStep() error: %v", err)
			}
			if tt.wantInv {
				if st.invocation == nil {
					t.Fatalf("expected an invocation, got %+v", st)
				}
				if st.invocation.Kind != tt.wantKind {
					t.Errorf("Kind = %v, want %v", st.invocation.Kind, tt.wantKind)
				}
				if st.invocation.SQL != tt.wantSQL || st.invocation.Table != tt.wantTable {
					t.Errorf("invocation = %+v", st.invocation)
				}
				return
			}
			if !st.hasFinal || st.final != tt.wantFinal {
				t.Errorf("final = %q (has %v), want %q", st.final, st.hasFinal, tt.wantFinal)
			}
		})
	}
}

func TestParseStep_Failures(t *testing.T) {
	for _, content := range []string{
		"",
		"I am not sure.",
		`{"type": "bar", "labels": ["a"], "values": [1]}`,
	} {
		_, err := parseStep(&llm.Completion{Content: content}, false)
		if !errors.Is(err, ErrParseFailure) {
			t.Errorf("parseStep(%q) error = %v, want ErrParseFailure", content, err)
		}
	}
}

func TestParseStep_ToolErrors(t *testing.T) {
	st, err := parseStep(&llm.Completion{Content: `{"action": "sql_db_query", "action_input": ""}`}, false)
	if err != nil {
		t.Fatalf("parseStep() error: %v", err)
	}
	var invalid *tools.ErrInvalidInput
	if !errors.As(st.toolErr, &invalid) {
		t.Errorf("toolErr = %v, want *ErrInvalidInput", st.toolErr)
	}

	st, err = parseStep(&llm.Completion{ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: "rm_rf"}}}}, false)
	if err != nil {
		t.Fatalf("parseStep() error: %v", err)
	}
	var unavailable *tools.ErrToolUnavailable
	if !errors.As(st.toolErr, &unavailable) {
		t.Errorf("toolErr = %v, want *ErrToolUnavailable", st.toolErr)
	}
}

func TestParseStep_NativeToolCallWins(t *testing.T) {
	comp := &llm.Completion{
		Content: `{"final_answer": "ignored"}`,
		ToolCalls: []llm.ToolCall{{
			Function: llm.FunctionCall{Name: "sql_db_list_tables", Arguments: map[string]any{}},
		}},
	}
	st, err := parseStep(comp, false)
	if err != nil {
		t.Fatalf("parseStep() error: %v", err)
	}
	if st.invocation == nil || st.invocation.Kind != tools.KindListTables {
		t.Errorf("step = %+v, want list tables invocation", st)
	}
}
