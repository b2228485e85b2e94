package prompts

import (
	"fmt"
	"strings"
	"time"
)

// baseInstructions apply to every role. The agent loop relies on the
// BLOCKED rule; the rest shape the answer.
var baseInstructions = []string{
	"ALWAYS run the SQL query with the tools and answer from the ACTUAL DATA. Never just show the SQL to the user.",
	"Only write SELECT queries. Refuse any INSERT, UPDATE, DELETE, DROP, ALTER, CREATE or TRUNCATE request.",
	`Always double-quote table and column names, for example "Expenses"."file_name".`,
	"Use ILIKE for case-insensitive text searches.",
	"Always add LIMIT 100 or less to queries.",
	"Respond in the same language the user wrote in.",
	"Wrap results in a short, friendly message. Never return raw data alone.",
	"Include useful context columns such as project name, file name, date or status, not just the value asked for.",
	"Do not show SQL in the final answer.",
	`If a tool result starts with "BLOCKED:", tell the user they do not have access to that data with their current role.`,
}

// SystemParams are the dynamic parts of the system prompt.
type SystemParams struct {
	// Role is the caller's role name, e.g. "ADMIN".
	Role string
	// Persona describes what the role does and what to help with.
	Persona string
	// SchemaGuide explains table relationships in prose.
	SchemaGuide string
	// Instructions are appended to the base instructions.
	Instructions []string
	// Tables is the role's allowlist.
	Tables []string
	// Tools lists the available tools, one "- name: description" per line.
	Tools string
	// NativeTools means tools are offered through the backend's tool
	// calling API instead of the JSON protocol.
	NativeTools bool
	// Now supplies the current date.
	Now time.Time
}

const protocolTemplate = `## How to answer
Work in steps. In each reply output exactly ONE JSON object and nothing else.

To use a tool:
{"thought": "what you need to find out next", "action": "<tool name>", "action_input": "<tool input>"}

When you know the answer:
{"thought": "I have the data I need", "final_answer": "<your answer to the user>"}

After each tool call you receive an Observation with the result. Start with %s,
then %s for the tables you need, then %s to run the query.`

const nativeProtocolTemplate = `## How to answer
Call the tools to look at the schema and run queries. Start with %s, then %s for the
tables you need, then %s to run the query. When you have the data, reply with the
final answer as plain text.`

const visualTemplate = `## Charts and tables
If a chart helps, add one JSON block to the final answer:
{"type": "bar", "labels": ["A", "B"], "values": [1, 2]}
Use "bar" or "pie". If a table helps, add one JSON block:
{"headers": ["Project", "Total"], "rows": [["Bridge", "1200.50"]]}`

// System returns the system prompt for one role.
func System(p SystemParams) string {
	var b strings.Builder

	if p.Persona != "" {
		b.WriteString(strings.TrimSpace(p.Persona))
	} else {
		fmt.Fprintf(&b, "You are a data assistant for the %s role. You answer questions about the company database.", p.Role)
	}
	b.WriteString("\n\n")

	if len(p.Tables) > 0 {
		fmt.Fprintf(&b, "## Tables you can query\n%s\n\n", strings.Join(p.Tables, ", "))
	}

	if guide := strings.TrimSpace(p.SchemaGuide); guide != "" {
		fmt.Fprintf(&b, "## Schema guide\n%s\n\n", guide)
	}

	b.WriteString("## Instructions\n")
	for _, in := range append(append([]string(nil), baseInstructions...), p.Instructions...) {
		fmt.Fprintf(&b, "- %s\n", in)
	}
	b.WriteString("\n")

	if p.Tools != "" {
		fmt.Fprintf(&b, "## Tools\n%s\n\n", p.Tools)
	}

	if p.NativeTools {
		fmt.Fprintf(&b, nativeProtocolTemplate, "sql_db_list_tables", "sql_db_schema", "sql_db_query")
	} else {
		fmt.Fprintf(&b, protocolTemplate, "sql_db_list_tables", "sql_db_schema", "sql_db_query")
	}
	b.WriteString("\n\n")
	b.WriteString(visualTemplate)
	b.WriteString("\n\n")

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "Today is %s", now.Format(time.DateOnly))
	return b.String()
}
