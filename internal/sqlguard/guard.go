// Package sqlguard statically validates model-authored SQL before it is
// allowed anywhere near the database.
//
// The guard is one layer of two: the connection it fronts is itself
// read-only. The guard still enforces every rule on its own, because it
// is the layer the agent loop consults on every iteration, and a
// rejection here is cheap, explainable feedback for the model.
//
// Statements are parsed with the PostgreSQL grammar (libpg_query). The
// rules run in a fixed order and the first failure wins:
//
//  1. exactly one statement
//  2. read path only: leading SELECT/WITH, no write keyword or
//     data-modifying node anywhere, no SELECT INTO, no row locking, and
//     only allowlisted functions
//  3. every relation is allowlisted
//  4. a row limit is present, appending the default when missing
package sqlguard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/nugget/datalookup/internal/catalog"
)

// DefaultLimit is appended to statements that carry no row limit.
const DefaultLimit = 100

// Rule identifies which check produced a verdict.
type Rule int

const (
	// RuleNone marks an allowed statement.
	RuleNone Rule = iota
	// RuleSingleStatement rejects unparseable, empty or chained input.
	RuleSingleStatement
	// RuleReadOnly rejects anything that is not a plain read.
	RuleReadOnly
	// RuleAllowlist rejects references to tables outside the catalog.
	RuleAllowlist
	// RuleRowLimit rejects limits the guard cannot reason about.
	RuleRowLimit
)

// String returns a stable, label-safe name.
func (r Rule) String() string {
	switch r {
	case RuleNone:
		return "none"
	case RuleSingleStatement:
		return "single_statement"
	case RuleReadOnly:
		return "read_only"
	case RuleAllowlist:
		return "allowlist"
	case RuleRowLimit:
		return "row_limit"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of validating one candidate statement.
type Verdict struct {
	// Allowed is true when SQL may be executed.
	Allowed bool
	// SQL is the normalized statement to execute. Empty on rejection.
	SQL string
	// Reason explains a rejection in terms the model can act on.
	Reason string
	// Rule is the check that rejected the statement, or RuleNone.
	Rule Rule
	// Tables lists the relations the statement references, sorted.
	Tables []string
	// LimitAdded reports whether the default limit was appended.
	LimitAdded bool
}

func allow(sql string, tables []string, limitAdded bool) Verdict {
	return Verdict{Allowed: true, SQL: sql, Tables: tables, LimitAdded: limitAdded}
}

func reject(rule Rule, tables []string, format string, args ...any) Verdict {
	return Verdict{Rule: rule, Tables: tables, Reason: fmt.Sprintf(format, args...)}
}

// Options tune a Guard.
type Options struct {
	// Schema is the only schema qualifier accepted on table names.
	// Empty means "public".
	Schema string
	// DefaultLimit is appended when a statement has no limit. Zero
	// means [DefaultLimit].
	DefaultLimit int
	// Denials maps table names to a friendlier rejection message, used
	// when a statement touches a table outside the allowlist.
	Denials map[string]string
}

// Guard validates statements against one catalog. It holds no mutable
// state and is safe for concurrent use.
type Guard struct {
	catalog *catalog.Catalog
	schema  string
	limit   int
	denials map[string]string
}

// New creates a guard for the given catalog.
func New(cat *catalog.Catalog, opts Options) *Guard {
	g := &Guard{
		catalog: cat,
		schema:  opts.Schema,
		limit:   opts.DefaultLimit,
		denials: opts.Denials,
	}
	if g.schema == "" {
		g.schema = "public"
	}
	if g.limit <= 0 {
		g.limit = DefaultLimit
	}
	return g
}

// writeKeywords may not appear as keywords anywhere in a statement.
// String literals, quoted identifiers and comments are not keywords.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "ALTER": true,
	"CREATE": true, "TRUNCATE": true, "GRANT": true, "REVOKE": true,
	"MERGE": true, "COPY": true, "VACUUM": true, "REINDEX": true,
}

// allowedFunctions is the complete set of callable functions. Anything
// else is rejected: the catalog of side-effecting and data-exposing
// builtins (file access, sleeps, *_to_xml, ts_stat, dblink ...) is too
// large to enumerate, so only plain computation over the row set is
// admitted. Names cover both PostgreSQL and SQLite spellings, plus the
// pg_catalog functions the parser emits for SQL-standard syntax such as
// EXTRACT, SUBSTRING ... FROM and TRIM.
var allowedFunctions = setOf(
	// aggregates
	"count", "sum", "avg", "min", "max", "total", "string_agg", "array_agg",
	"group_concat", "bool_and", "bool_or", "every", "stddev", "stddev_pop",
	"stddev_samp", "variance", "var_pop", "var_samp", "corr", "covar_pop",
	"covar_samp", "percentile_cont", "percentile_disc", "mode",
	"json_agg", "jsonb_agg", "json_object_agg", "jsonb_object_agg",
	"json_group_array", "json_group_object",
	// window
	"row_number", "rank", "dense_rank", "percent_rank", "cume_dist", "ntile",
	"lag", "lead", "first_value", "last_value", "nth_value",
	// string
	"lower", "upper", "initcap", "length", "char_length", "character_length",
	"octet_length", "substr", "substring", "left", "right", "trim", "btrim",
	"ltrim", "rtrim", "lpad", "rpad", "replace", "translate", "concat",
	"concat_ws", "position", "strpos", "instr", "split_part", "reverse",
	"repeat", "format", "printf", "overlay", "starts_with", "regexp_replace",
	"regexp_match", "regexp_matches", "regexp_split_to_array", "like",
	"glob", "quote_literal", "md5", "to_char", "to_number", "normalize",
	"similar_to_escape", "unicode", "char", "hex", "soundex",
	// date and time
	"now", "date", "time", "datetime", "julianday", "unixepoch", "strftime",
	"date_trunc", "date_part", "extract", "age", "to_date", "to_timestamp",
	"make_date", "make_time", "make_timestamp", "make_interval", "timezone",
	"overlaps", "isfinite", "justify_days", "justify_hours",
	"justify_interval", "current_date", "current_time", "current_timestamp",
	"localtime", "localtimestamp", "clock_timestamp", "statement_timestamp",
	"transaction_timestamp",
	// math
	"abs", "round", "ceil", "ceiling", "floor", "trunc", "mod", "power", "pow",
	"sqrt", "cbrt", "exp", "ln", "log", "log10", "sign", "div", "pi",
	"degrees", "radians", "width_bucket", "gcd", "lcm", "random",
	// conditional and type helpers
	"coalesce", "nullif", "ifnull", "iif", "greatest", "least", "typeof",
	"num_nonnulls", "num_nulls",
	// json
	"json_extract", "json_array_length", "jsonb_array_length", "json_typeof",
	"jsonb_typeof", "json_build_object", "jsonb_build_object",
	"json_build_array", "jsonb_build_array", "to_json", "to_jsonb",
	"json_object", "json_array", "jsonb_extract_path",
	"jsonb_extract_path_text", "json_extract_path", "json_extract_path_text",
	// arrays and sets
	"unnest", "array_length", "cardinality", "array_to_string",
	"generate_series",
)

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Validate checks sql and returns exactly one verdict.
func (g *Guard) Validate(sql string) Verdict {
	v := g.validate(sql)
	recordVerdict(v)
	return v
}

func (g *Guard) validate(sql string) Verdict {
	if strings.TrimSpace(sql) == "" {
		return reject(RuleSingleStatement, nil, "empty statement")
	}

	// Rule 1: exactly one statement.
	scan, err := pg_query.Scan(sql)
	if err != nil {
		return reject(RuleSingleStatement, nil, "statement could not be parsed: %v", err)
	}
	tree, err := parseTree(sql)
	if err != nil {
		return reject(RuleSingleStatement, nil, "statement could not be parsed: %v", err)
	}
	switch n := len(tree.Stmts); {
	case n == 0:
		return reject(RuleSingleStatement, nil, "empty statement")
	case n > 1:
		return reject(RuleSingleStatement, nil, "only one statement is allowed, found %d", n)
	}

	tokens := significantTokens(sql, scan)
	if len(tokens) == 0 {
		return reject(RuleSingleStatement, nil, "empty statement")
	}

	// Rule 2: read path only.
	lead := strings.ToUpper(tokens[0].text)
	if lead != "SELECT" && lead != "WITH" {
		return reject(RuleReadOnly, nil, "only SELECT or WITH queries are permitted, statement starts with %s", lead)
	}
	for _, tok := range tokens {
		if !tok.keyword {
			continue
		}
		if kw := strings.ToUpper(tok.text); writeKeywords[kw] {
			return reject(RuleReadOnly, nil, "write operation %s is not allowed, only SELECT queries are permitted", kw)
		}
	}

	stmt, ok := tree.Stmts[0].Stmt["SelectStmt"].(map[string]any)
	if !ok {
		return reject(RuleReadOnly, nil, "only SELECT queries are permitted")
	}

	w := &walker{}
	w.walk(tree.Stmts[0].Stmt, nil)
	tables := w.tableNames()
	if w.violation != "" {
		return reject(RuleReadOnly, tables, "%s", w.violation)
	}

	// Rule 3: allowlist.
	for _, ref := range w.tables {
		if ref.schema != "" && ref.schema != g.schema {
			return reject(RuleAllowlist, tables, "access denied: schema %q is not available, use tables from %q only", ref.schema, g.schema)
		}
		if g.catalog.Contains(ref.name) {
			continue
		}
		if msg, ok := g.denials[ref.name]; ok {
			return reject(RuleAllowlist, tables, "access denied: %s", msg)
		}
		if canonical, ok := g.catalog.Lookup(ref.name); ok {
			return reject(RuleAllowlist, tables, "access denied: table %q is not available; did you mean %q? Double-quote table names to preserve case", ref.name, canonical)
		}
		return reject(RuleAllowlist, tables, "access denied: table %q is not available", ref.name)
	}

	// Rule 4: row limit.
	normalized := strings.TrimSpace(sql[tokens[0].start:tokens[len(tokens)-1].end])
	limit, hasLimit := stmt["limitCount"]
	if hasLimit {
		if isNullConst(limit) {
			return reject(RuleRowLimit, tables, "LIMIT ALL is not permitted, use LIMIT %d or less", g.limit)
		}
		return allow(normalized, tables, false)
	}

	limited := normalized + " LIMIT " + strconv.Itoa(g.limit)
	if _, hasOffset := stmt["limitOffset"]; hasOffset {
		// SQLite only accepts LIMIT before OFFSET.
		if at := lastKeyword(tokens, "OFFSET"); at >= 0 {
			base := tokens[0].start
			limited = sql[base:at] + "LIMIT " + strconv.Itoa(g.limit) + " " + sql[at:tokens[len(tokens)-1].end]
			limited = strings.TrimSpace(limited)
		}
	}
	if reparsed, err := parseTree(limited); err != nil || len(reparsed.Stmts) != 1 {
		return reject(RuleRowLimit, tables, "statement does not accept a LIMIT clause, add LIMIT %d yourself", g.limit)
	}
	return allow(limited, tables, true)
}

type parseResult struct {
	Stmts []struct {
		Stmt map[string]any `json:"stmt"`
	} `json:"stmts"`
}

func parseTree(sql string) (*parseResult, error) {
	raw, err := pg_query.ParseToJSON(sql)
	if err != nil {
		return nil, err
	}
	var tree parseResult
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, fmt.Errorf("decode parse tree: %w", err)
	}
	return &tree, nil
}

type token struct {
	text       string
	start, end int
	keyword    bool
}

// significantTokens drops comments and statement terminators.
func significantTokens(sql string, scan *pg_query.ScanResult) []token {
	out := make([]token, 0, len(scan.Tokens))
	for _, t := range scan.Tokens {
		start, end := int(t.Start), int(t.End)
		if start < 0 || end > len(sql) || start >= end {
			continue
		}
		text := sql[start:end]
		if text == ";" || strings.HasPrefix(text, "--") || strings.HasPrefix(text, "/*") {
			continue
		}
		out = append(out, token{
			text:    text,
			start:   start,
			end:     end,
			keyword: t.KeywordKind != pg_query.KeywordKind_NO_KEYWORD,
		})
	}
	return out
}

// lastKeyword returns the offset of the last keyword token equal to kw,
// or -1.
func lastKeyword(tokens []token, kw string) int {
	for i := len(tokens) - 1; i >= 0; i-- {
		if tokens[i].keyword && strings.EqualFold(tokens[i].text, kw) {
			return tokens[i].start
		}
	}
	return -1
}

func isNullConst(node any) bool {
	m, ok := node.(map[string]any)
	if !ok {
		return false
	}
	c, ok := m["A_Const"].(map[string]any)
	if !ok {
		return false
	}
	isNull, _ := c["isnull"].(bool)
	return isNull
}

type tableRef struct {
	schema string
	name   string
}

// walker visits the JSON parse tree collecting relation references and
// the first read-only violation. CTE names are tracked by scope so that
// a CTE shadowing a real table only hides references that actually see
// the CTE.
type walker struct {
	tables    []tableRef
	violation string
}

func (w *walker) fail(format string, args ...any) {
	if w.violation == "" {
		w.violation = fmt.Sprintf(format, args...)
	}
}

func (w *walker) walk(node any, ctes map[string]bool) {
	switch n := node.(type) {
	case []any:
		for _, item := range n {
			w.walk(item, ctes)
		}
	case map[string]any:
		w.walkMap(n, ctes)
	}
}

func (w *walker) walkMap(m map[string]any, ctes map[string]bool) {
	if with, ok := m["withClause"].(map[string]any); ok {
		ctes = w.walkWith(with, ctes)
	}

	for key, val := range m {
		switch {
		case key == "withClause":
			continue
		case key == "intoClause":
			w.fail("SELECT INTO creates a table and is not allowed")
		case key == "lockingClause":
			w.fail("row locking clauses (FOR UPDATE/SHARE) are not allowed")
		case key == "RangeVar":
			if rv, ok := val.(map[string]any); ok {
				w.rangeVar(rv, ctes)
			}
			continue
		case key == "FuncCall":
			if fc, ok := val.(map[string]any); ok {
				w.funcCall(fc)
			}
		case strings.HasSuffix(key, "Stmt") && key != "SelectStmt":
			w.fail("%s is not allowed, only SELECT queries are permitted", strings.TrimSuffix(key, "Stmt"))
		}
		w.walk(val, ctes)
	}
}

// walkWith walks each CTE body and returns the scope visible to the rest
// of the statement. Without RECURSIVE a CTE body does not see itself.
func (w *walker) walkWith(with map[string]any, outer map[string]bool) map[string]bool {
	recursive, _ := with["recursive"].(bool)
	scope := make(map[string]bool, len(outer))
	for k := range outer {
		scope[k] = true
	}

	list, _ := with["ctes"].([]any)
	for _, item := range list {
		wrapper, _ := item.(map[string]any)
		cte, _ := wrapper["CommonTableExpr"].(map[string]any)
		if cte == nil {
			continue
		}
		name, _ := cte["ctename"].(string)
		if recursive && name != "" {
			scope[name] = true
		}
		inner := make(map[string]bool, len(scope))
		for k := range scope {
			inner[k] = true
		}
		w.walk(cte["ctequery"], inner)
		if name != "" {
			scope[name] = true
		}
	}
	return scope
}

func (w *walker) rangeVar(rv map[string]any, ctes map[string]bool) {
	name, _ := rv["relname"].(string)
	schema, _ := rv["schemaname"].(string)
	if name == "" {
		return
	}
	if schema == "" && ctes[name] {
		return
	}
	w.tables = append(w.tables, tableRef{schema: schema, name: name})
}

func (w *walker) tableNames() []string {
	seen := make(map[string]bool, len(w.tables))
	var out []string
	for _, t := range w.tables {
		if !seen[t.name] {
			seen[t.name] = true
			out = append(out, t.name)
		}
	}
	sort.Strings(out)
	return out
}

// funcCall rejects any function outside allowedFunctions, and any
// schema qualifier other than pg_catalog.
func (w *walker) funcCall(fc map[string]any) {
	parts := funcNameParts(fc)
	if len(parts) == 0 {
		w.fail("function call could not be resolved")
		return
	}
	name := parts[len(parts)-1]
	if len(parts) > 1 {
		if schema := strings.Join(parts[:len(parts)-1], "."); schema != "pg_catalog" {
			w.fail("function %s.%s is not allowed", schema, name)
			return
		}
	}
	if !allowedFunctions[name] {
		w.fail("function %s is not allowed", name)
	}
}

// funcNameParts returns the lower-cased, possibly qualified function
// name.
func funcNameParts(fc map[string]any) []string {
	list, _ := fc["funcname"].([]any)
	parts := make([]string, 0, len(list))
	for _, item := range list {
		node, _ := item.(map[string]any)
		str, _ := node["String"].(map[string]any)
		name, _ := str["sval"].(string)
		if name == "" {
			return nil
		}
		parts = append(parts, strings.ToLower(name))
	}
	return parts
}
