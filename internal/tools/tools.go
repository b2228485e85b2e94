// Package tools provides the tool registry the agent acts through.
//
// There are four tools, named after the SQL toolkit small models were
// trained on: list tables, describe tables, check a query and run a
// query. The registry is the only path from model output to the
// database, and every statement it runs has passed the SQL guard.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nugget/datalookup/internal/audit"
	"github.com/nugget/datalookup/internal/catalog"
	"github.com/nugget/datalookup/internal/database"
	"github.com/nugget/datalookup/internal/sqlguard"
)

// Tool names as the model sees them.
const (
	ToolListTables   = "sql_db_list_tables"
	ToolSchema       = "sql_db_schema"
	ToolQuery        = "sql_db_query"
	ToolQueryChecker = "sql_db_query_checker"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Querier runs guard-approved statements.
type Querier interface {
	Query(ctx context.Context, sql string, maxRows int) (*database.ResultSet, error)
	Explain(ctx context.Context, sql string) (string, error)
}

// Config bounds what tools relay back to the model.
type Config struct {
	// Role owns this registry. It is stamped on audit records.
	Role string
	// MaxRows caps rows returned by sql_db_query.
	MaxRows int
	// MaxBytes caps the formatted observation size.
	MaxBytes int
	// SampleRows is the number of example rows sql_db_schema shows
	// per table. Zero disables samples.
	SampleRows int
}

// Default observation bounds.
const (
	DefaultMaxRows    = 50
	DefaultMaxBytes   = 4000
	DefaultSampleRows = 3
)

// Registry holds the tools available to one role.
type Registry struct {
	tools   map[string]*Tool
	catalog *catalog.Catalog
	guard   *sqlguard.Guard
	db      Querier
	audit   audit.Recorder
	cfg     Config
	logger  *slog.Logger
}

// NewRegistry creates a registry over a role's catalog view and guard.
// rec may be nil to disable auditing.
func NewRegistry(cat *catalog.Catalog, guard *sqlguard.Guard, db Querier, rec audit.Recorder, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.SampleRows < 0 {
		cfg.SampleRows = 0
	}
	r := &Registry{
		tools:   make(map[string]*Tool),
		catalog: cat,
		guard:   guard,
		db:      db,
		audit:   rec,
		cfg:     cfg,
		logger:  logger.With("role", cfg.Role),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        ToolListTables,
		Description: "List the tables you may query. Input is an empty string. Output is a comma-separated list of table names.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListTables,
	})

	r.Register(&Tool{
		Name: ToolSchema,
		Description: "Show the columns and a few sample rows of one or more tables. Input is a comma-separated list of table names, " +
			"for example: Expenses, Project. Call sql_db_list_tables first to get the exact names.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"table_names": map[string]any{
					"type":        "string",
					"description": "Comma-separated table names",
				},
			},
			"required": []string{"table_names"},
		},
		Handler: r.handleSchema,
	})

	r.Register(&Tool{
		Name: ToolQueryChecker,
		Description: "Check a SQL query before running it. Output is the statement that would run and its plan, " +
			"or the reason the query is not allowed. Use it before sql_db_query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "A single read-only SELECT statement",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleQueryChecker,
	})

	r.Register(&Tool{
		Name: ToolQuery,
		Description: "Run a read-only SQL query and return the rows. If the query is wrong an error is returned: " +
			"fix the query and try again. If a column is unknown, use sql_db_schema to see the real column names.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "A single read-only SELECT statement",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleQuery,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the OpenAI function format, sorted by name.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Describe renders the tool list for a text prompt: one "name: description"
// line per tool.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, name := range r.Names() {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.tools[name].Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Catalog returns the catalog view the registry serves.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// Execute runs a tool by name with given arguments.
//
// Outcomes the model can recover from (a blocked statement, an unknown
// column, a bad table name) are returned as the observation with a nil
// error. A non-nil error is either *ErrToolUnavailable, *ErrInvalidInput
// or a fatal condition such as a timeout or cancellation.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		executionsTotal.WithLabelValues("unknown", outcomeInvalid).Inc()
		return "", &ErrToolUnavailable{ToolName: name, Available: r.Names()}
	}
	return tool.Handler(ctx, args)
}

// Run executes a parsed invocation.
func (r *Registry) Run(ctx context.Context, inv Invocation) (string, error) {
	return r.Execute(ctx, inv.Name(), inv.Args())
}
