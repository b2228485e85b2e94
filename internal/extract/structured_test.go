package extract

import (
	"errors"
	"testing"
)

func TestStructured_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare object",
			in:   `{"action": "list_tables"}`,
			want: `{"action": "list_tables"}`,
		},
		{
			name: "after reasoning",
			in:   "<think>maybe {\"action\": \"run_query\"}</think>\n{\"action\": \"list_tables\"}",
			want: `{"action": "list_tables"}`,
		},
		{
			name: "surrounded by prose",
			in:   "Sure! Here you go: {\"final_answer\": \"We have 4 files.\"} Hope that helps.",
			want: `{"final_answer": "We have 4 files."}`,
		},
		{
			name: "nested object",
			in:   `prefix {"action": "get_schema", "action_input": {"table": "Expenses"}} suffix`,
			want: `{"action": "get_schema", "action_input": {"table": "Expenses"}}`,
		},
		{
			name: "braces inside strings",
			in:   `{"final_answer": "use {curly} and \"quoted }\" text"}`,
			want: `{"final_answer": "use {curly} and \"quoted }\" text"}`,
		},
		{
			name: "skips invalid candidate",
			in:   `{not json} then {"ok": true}`,
			want: `{"ok": true}`,
		},
		{
			name: "code fence",
			in:   "```json\n{\"action\": \"list_tables\"}\n```",
			want: `{"action": "list_tables"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Structured(tt.in, KindJSON)
			if err != nil {
				t.Fatalf("Structured() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Structured() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStructured_JSONNotFound(t *testing.T) {
	for _, in := range []string{"", "no braces here", "{unbalanced", "<think>{\"a\":1}</think>only prose"} {
		got, err := Structured(in, KindJSON)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Structured(%q) error = %v, want ErrNotFound", in, err)
		}
		if got != "" {
			t.Errorf("Structured(%q) = %q, want empty", in, got)
		}
	}
}

func TestStructured_SQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare select",
			in:   `SELECT "file_name" FROM "Expenses"`,
			want: `SELECT "file_name" FROM "Expenses"`,
		},
		{
			name: "lowercase with semicolon",
			in:   "select count(*) from \"Project\";",
			want: "select count(*) from \"Project\"",
		},
		{
			name: "fenced block preferred",
			in:   "I will select the data.\n```sql\nSELECT * FROM \"Trip\"\n```",
			want: "SELECT * FROM \"Trip\"",
		},
		{
			name: "cte",
			in:   "Query: WITH recent AS (SELECT * FROM \"Expenses\") SELECT * FROM recent;",
			want: "WITH recent AS (SELECT * FROM \"Expenses\") SELECT * FROM recent",
		},
		{
			name: "prose with does not start a statement",
			in:   "Done with that. SELECT 1",
			want: "SELECT 1",
		},
		{
			name: "semicolon inside literal",
			in:   "SELECT * FROM \"Project\" WHERE name = 'a;b'; DROP TABLE x",
			want: "SELECT * FROM \"Project\" WHERE name = 'a;b'",
		},
		{
			name: "stops at blank line",
			in:   "SELECT 1\nFROM \"Project\"\n\nThis returns one row.",
			want: "SELECT 1\nFROM \"Project\"",
		},
		{
			name: "after reasoning",
			in:   "<think>SELECT wrong</think>SELECT right FROM \"Billing\"",
			want: "SELECT right FROM \"Billing\"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Structured(tt.in, KindSQL)
			if err != nil {
				t.Fatalf("Structured() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Structured() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStructured_SQLNotFound(t *testing.T) {
	for _, in := range []string{"", "There are 5 projects.", "DROP TABLE \"Expenses\"", "with love"} {
		if _, err := Structured(in, KindSQL); !errors.Is(err, ErrNotFound) {
			t.Errorf("Structured(%q) error = %v, want ErrNotFound", in, err)
		}
	}
}

func TestKindString(t *testing.T) {
	if got := KindJSON.String(); got != "json" {
		t.Errorf("KindJSON.String() = %q", got)
	}
	if got := KindSQL.String(); got != "sql" {
		t.Errorf("KindSQL.String() = %q", got)
	}
}
