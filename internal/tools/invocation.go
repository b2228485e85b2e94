package tools

import (
	"fmt"
	"strings"
)

// Kind identifies one of the four tools.
type Kind int

const (
	KindListTables Kind = iota
	KindGetSchema
	KindRunQuery
	KindCheckQuery
)

// String returns the tool name for k.
func (k Kind) String() string {
	switch k {
	case KindListTables:
		return ToolListTables
	case KindGetSchema:
		return ToolSchema
	case KindRunQuery:
		return ToolQuery
	case KindCheckQuery:
		return ToolQueryChecker
	default:
		return "unknown"
	}
}

// Invocation is one tool call decided by the model.
type Invocation struct {
	Kind Kind
	// Table holds the table names for KindGetSchema, comma-separated.
	Table string
	// SQL is the candidate statement for KindRunQuery and KindCheckQuery.
	SQL string
}

// Name returns the tool name the invocation targets.
func (inv Invocation) Name() string {
	return inv.Kind.String()
}

// Args returns the invocation as tool arguments.
func (inv Invocation) Args() map[string]any {
	switch inv.Kind {
	case KindGetSchema:
		return map[string]any{"table_names": inv.Table}
	case KindRunQuery, KindCheckQuery:
		return map[string]any{"query": inv.SQL}
	default:
		return map[string]any{}
	}
}

// String renders the invocation for logs and transcripts.
func (inv Invocation) String() string {
	switch inv.Kind {
	case KindGetSchema:
		return fmt.Sprintf("%s(%s)", inv.Name(), inv.Table)
	case KindRunQuery, KindCheckQuery:
		return fmt.Sprintf("%s(%s)", inv.Name(), inv.SQL)
	default:
		return inv.Name()
	}
}

// aliases maps the names small models tend to invent onto real tools.
var aliases = map[string]Kind{
	ToolListTables:   KindListTables,
	"list_tables":    KindListTables,
	ToolSchema:       KindGetSchema,
	"schema":         KindGetSchema,
	"get_schema":     KindGetSchema,
	"describe_table": KindGetSchema,
	ToolQuery:        KindRunQuery,
	"query":          KindRunQuery,
	"run_query":      KindRunQuery,
	"sql_query":      KindRunQuery,
	ToolQueryChecker: KindCheckQuery,
	"query_checker":  KindCheckQuery,
	"check_query":    KindCheckQuery,
}

var toolNames = []string{ToolListTables, ToolQuery, ToolQueryChecker, ToolSchema}

// ParseInvocation turns a tool name and the model's action input into an
// invocation. input may be a string, a JSON object decoded as
// map[string]any, or nil.
func ParseInvocation(name string, input any) (Invocation, error) {
	kind, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Invocation{}, &ErrToolUnavailable{ToolName: name, Available: toolNames}
	}

	inv := Invocation{Kind: kind}
	switch kind {
	case KindGetSchema:
		inv.Table = stringInput(input, "table_names", "table_name", "tables", "table")
		if inv.Table == "" {
			return Invocation{}, &ErrInvalidInput{ToolName: inv.Name(), Reason: "table_names is required"}
		}
	case KindRunQuery, KindCheckQuery:
		inv.SQL = stringInput(input, "query", "sql", "sql_query")
		if inv.SQL == "" {
			return Invocation{}, &ErrInvalidInput{ToolName: inv.Name(), Reason: "query is required"}
		}
	}
	return inv, nil
}

// stringInput extracts a string from a bare value or from the first
// matching key of an object. Lists are joined with ", ".
func stringInput(input any, keys ...string) string {
	switch v := input.(type) {
	case nil:
		return ""
	case map[string]any:
		for _, k := range keys {
			if s := stringInput(v[k], keys...); s != "" {
				return s
			}
		}
		return ""
	default:
		return flatten(v)
	}
}

func flatten(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.TrimSpace(strings.Join(v, ", "))
	default:
		return ""
	}
}

// stringArg reads a string argument from a handler's args map.
func stringArg(args map[string]any, keys ...string) string {
	if args == nil {
		return ""
	}
	return stringInput(args, keys...)
}
