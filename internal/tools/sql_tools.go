package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/datalookup/internal/audit"
	"github.com/nugget/datalookup/internal/database"
	"github.com/nugget/datalookup/internal/extract"
	"github.com/nugget/datalookup/internal/sqlguard"
)

// BlockedPrefix starts every observation for a statement the guard
// rejected.
const BlockedPrefix = "BLOCKED:"

func (r *Registry) handleListTables(_ context.Context, _ map[string]any) (string, error) {
	executionsTotal.WithLabelValues(ToolListTables, outcomeOK).Inc()
	return strings.Join(r.catalog.Tables(), ", "), nil
}

func (r *Registry) handleSchema(ctx context.Context, args map[string]any) (string, error) {
	names := splitTables(stringArg(args, "table_names", "table_name", "tables", "table"))
	if len(names) == 0 {
		executionsTotal.WithLabelValues(ToolSchema, outcomeInvalid).Inc()
		return "", &ErrInvalidInput{ToolName: ToolSchema, Reason: "table_names is required"}
	}

	var blocks []string
	for _, name := range names {
		table, ok := r.catalog.Lookup(name)
		if !ok {
			blocks = append(blocks, fmt.Sprintf("Error: table %q is not available. Available tables: %s",
				name, strings.Join(r.catalog.Tables(), ", ")))
			continue
		}

		desc, err := r.catalog.Describe(table)
		if err != nil {
			return "", fmt.Errorf("tools: describe %q: %w", table, err)
		}
		if table != name {
			desc = fmt.Sprintf("Note: table names are case-sensitive; use %q.\n%s", table, desc)
		}

		sample, err := r.sampleRows(ctx, table)
		if err != nil {
			if isFatal(err) {
				return "", err
			}
			r.logger.Warn("sample rows unavailable", "table", table, "error", err)
		}
		if sample != "" {
			desc += "\n\n" + sample
		}
		blocks = append(blocks, desc)
	}

	executionsTotal.WithLabelValues(ToolSchema, outcomeOK).Inc()
	return strings.Join(blocks, "\n\n"), nil
}

// sampleRows returns a comment block with the first rows of table. The
// statement goes through the guard like any other.
func (r *Registry) sampleRows(ctx context.Context, table string) (string, error) {
	if r.cfg.SampleRows == 0 {
		return "", nil
	}
	stmt := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), r.cfg.SampleRows)
	v := r.guard.Validate(stmt)
	if !v.Allowed {
		return "", fmt.Errorf("tools: sample statement rejected: %s", v.Reason)
	}
	rs, err := r.db.Query(ctx, v.SQL, r.cfg.SampleRows)
	if err != nil {
		return "", err
	}
	if len(rs.Rows) == 0 {
		return "", nil
	}
	return fmt.Sprintf("/*\n%d rows from %s table:\n%s\n*/", len(rs.Rows), table, rs.Format(r.cfg.SampleRows, r.cfg.MaxBytes)), nil
}

func (r *Registry) handleQueryChecker(ctx context.Context, args map[string]any) (string, error) {
	sql := cleanSQL(stringArg(args, "query", "sql", "sql_query"))
	if sql == "" {
		executionsTotal.WithLabelValues(ToolQueryChecker, outcomeInvalid).Inc()
		return "", &ErrInvalidInput{ToolName: ToolQueryChecker, Reason: "query is required"}
	}

	v := r.guard.Validate(sql)
	if !v.Allowed {
		return r.blocked(ctx, ToolQueryChecker, sql, v), nil
	}

	start := time.Now()
	plan, err := r.db.Explain(ctx, v.SQL)
	elapsed := time.Since(start)
	r.record(ctx, audit.Record{
		Tool: ToolQueryChecker, SQL: v.SQL, Verdict: audit.VerdictAllowed,
		Tables: v.Tables, Duration: elapsed, Error: errorText(err),
	})
	if err != nil {
		if isFatal(err) {
			executionsTotal.WithLabelValues(ToolQueryChecker, outcomeFatal).Inc()
			return "", fmt.Errorf("tools: %s: %w", ToolQueryChecker, err)
		}
		executionsTotal.WithLabelValues(ToolQueryChecker, outcomeError).Inc()
		return queryErrorObservation(err), nil
	}

	executionsTotal.WithLabelValues(ToolQueryChecker, outcomeOK).Inc()
	var b strings.Builder
	b.WriteString("The query is valid and read-only.\n")
	if v.LimitAdded {
		b.WriteString("A default row limit was added.\n")
	}
	fmt.Fprintf(&b, "Query to run:\n%s\nPlan:\n%s", v.SQL, plan)
	return b.String(), nil
}

func (r *Registry) handleQuery(ctx context.Context, args map[string]any) (string, error) {
	sql := cleanSQL(stringArg(args, "query", "sql", "sql_query"))
	if sql == "" {
		executionsTotal.WithLabelValues(ToolQuery, outcomeInvalid).Inc()
		return "", &ErrInvalidInput{ToolName: ToolQuery, Reason: "query is required"}
	}

	v := r.guard.Validate(sql)
	if !v.Allowed {
		return r.blocked(ctx, ToolQuery, sql, v), nil
	}

	start := time.Now()
	rs, err := r.db.Query(ctx, v.SQL, r.cfg.MaxRows)
	elapsed := time.Since(start)
	queryDuration.Observe(elapsed.Seconds())

	rec := audit.Record{
		Tool: ToolQuery, SQL: v.SQL, Verdict: audit.VerdictAllowed,
		Tables: v.Tables, Duration: elapsed, Error: errorText(err),
	}
	if rs != nil {
		rec.Rows = len(rs.Rows)
	}
	r.record(ctx, rec)

	if err != nil {
		r.logger.Debug("query failed", "sql", v.SQL, "error", err)
		if isFatal(err) {
			executionsTotal.WithLabelValues(ToolQuery, outcomeFatal).Inc()
			return "", fmt.Errorf("tools: %s: %w", ToolQuery, err)
		}
		executionsTotal.WithLabelValues(ToolQuery, outcomeError).Inc()
		return queryErrorObservation(err), nil
	}

	MetadataFromContext(ctx).recordQuery(len(rs.Rows), elapsed, v.Tables)
	executionsTotal.WithLabelValues(ToolQuery, outcomeOK).Inc()
	r.logger.Debug("query executed",
		"sql", v.SQL,
		"rows", len(rs.Rows),
		"truncated", rs.Truncated,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return rs.Format(r.cfg.MaxRows, r.cfg.MaxBytes), nil
}

// blocked records a rejected statement and returns its observation. The
// statement never reaches the database.
func (r *Registry) blocked(ctx context.Context, tool, sql string, v sqlguard.Verdict) string {
	MetadataFromContext(ctx).recordBlocked()
	executionsTotal.WithLabelValues(tool, outcomeBlocked).Inc()
	r.logger.Info("statement blocked", "tool", tool, "rule", v.Rule.String(), "reason", v.Reason)
	r.record(ctx, audit.Record{
		Tool: tool, SQL: sql, Verdict: audit.VerdictBlocked,
		Rule: v.Rule.String(), Reason: v.Reason, Tables: v.Tables,
	})
	return fmt.Sprintf("%s %s", BlockedPrefix, v.Reason)
}

// record writes an audit record. Failures are logged and never fail the
// tool call.
func (r *Registry) record(ctx context.Context, rec audit.Record) {
	if r.audit == nil {
		return
	}
	rec.RequestID = RequestIDFromContext(ctx)
	rec.Role = r.cfg.Role
	if err := r.audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("audit record failed", "tool", rec.Tool, "error", err)
	}
}

// isFatal reports whether err ends the agent invocation rather than
// being relayed to the model.
func isFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var qe *database.QueryError
	return errors.As(err, &qe) && qe.Kind == database.KindTimeout
}

func queryErrorObservation(err error) string {
	var qe *database.QueryError
	if !errors.As(err, &qe) {
		return "Error: " + err.Error()
	}
	msg := "Error: " + qe.Err.Error()
	if hint := qe.Hint(); hint != "" {
		msg += "\nHint: " + hint
	}
	return msg
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// cleanSQL unwraps a statement the model wrapped in a code fence or
// surrounding prose.
func cleanSQL(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "```") || extract.HasReasoningMarkers(s) {
		if found, err := extract.Structured(s, extract.KindSQL); err == nil {
			return found
		}
		s = strings.TrimSpace(extract.StripReasoning(s))
	}
	return strings.Trim(s, "`")
}

func splitTables(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
