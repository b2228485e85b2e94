// Package catalog exposes the fixed set of tables the agent may see.
//
// The allowlist is authoritative: the catalog never grows to include a
// table just because the live database has it, and a table listed in the
// allowlist stays visible even if introspection finds no columns for it.
// Columns are introspected once in [Load]; the resulting Catalog is
// immutable and safe to share between goroutines.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrUnknownTable is returned for table names outside the allowlist.
var ErrUnknownTable = errors.New("catalog: unknown table")

// Column describes one column of an allowlisted table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Position int    `json:"position"`
}

// Introspector reads column metadata from the live schema. Columns must
// be returned in ordinal order; an unknown table yields no columns and
// no error.
type Introspector interface {
	Columns(ctx context.Context, table string) ([]Column, error)
}

// Catalog is an immutable allowlisted view of the schema.
type Catalog struct {
	tables  []string
	columns map[string][]Column
}

// loadConcurrency bounds parallel introspection queries at startup.
const loadConcurrency = 4

// Load introspects every allowlisted table and returns the catalog.
// Duplicate and blank names in allowlist are ignored.
func Load(ctx context.Context, in Introspector, allowlist []string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tables := normalize(allowlist)
	if len(tables) == 0 {
		return nil, errors.New("catalog: empty allowlist")
	}

	var mu sync.Mutex
	columns := make(map[string][]Column, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, table := range tables {
		g.Go(func() error {
			cols, err := in.Columns(gctx, table)
			if err != nil {
				return fmt.Errorf("catalog: introspect %q: %w", table, err)
			}
			if len(cols) == 0 {
				logger.Warn("allowlisted table not found in live schema", "table", table)
			}
			sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
			mu.Lock()
			columns[table] = cols
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("schema catalog loaded", "tables", len(tables))
	return &Catalog{tables: tables, columns: columns}, nil
}

// New builds a catalog from already-known columns. It is used by tests
// and by callers that describe the schema statically.
func New(columns map[string][]Column) *Catalog {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	tables := normalize(names)
	cols := make(map[string][]Column, len(tables))
	for _, t := range tables {
		c := append([]Column(nil), columns[t]...)
		sort.SliceStable(c, func(i, j int) bool { return c[i].Position < c[j].Position })
		cols[t] = c
	}
	return &Catalog{tables: tables, columns: cols}
}

func normalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Tables returns the allowlisted table names, sorted.
func (c *Catalog) Tables() []string {
	return append([]string(nil), c.tables...)
}

// Contains reports whether table is allowlisted. Matching is exact:
// "Expenses" and "expenses" are different tables to Postgres.
func (c *Catalog) Contains(table string) bool {
	_, ok := c.columns[table]
	return ok
}

// Lookup returns the allowlisted spelling of table, matching exactly
// first and then case-insensitively. The second result is false when
// nothing matches. Lookup is for hints only; authorization uses
// [Catalog.Contains].
func (c *Catalog) Lookup(table string) (string, bool) {
	if c.Contains(table) {
		return table, true
	}
	for _, t := range c.tables {
		if strings.EqualFold(t, table) {
			return t, true
		}
	}
	return "", false
}

// Columns returns the columns of table in ordinal order.
func (c *Catalog) Columns(table string) ([]Column, error) {
	cols, ok := c.columns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return append([]Column(nil), cols...), nil
}

// Restrict returns a catalog limited to tables, which must all belong to
// c. Column metadata is shared, not re-introspected.
func (c *Catalog) Restrict(tables []string) (*Catalog, error) {
	names := normalize(tables)
	cols := make(map[string][]Column, len(names))
	for _, t := range names {
		existing, ok := c.columns[t]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTable, t)
		}
		cols[t] = existing
	}
	return &Catalog{tables: names, columns: cols}, nil
}

// Describe renders table and its columns as a compact CREATE TABLE-like
// block for the model.
func (c *Catalog) Describe(table string) (string, error) {
	cols, err := c.Columns(table)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "TABLE %q (\n", table)
	for i, col := range cols {
		fmt.Fprintf(&b, "  %q %s", col.Name, col.Type)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(cols)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(")")
	if len(cols) == 0 {
		return fmt.Sprintf("TABLE %q has no visible columns", table), nil
	}
	return b.String(), nil
}
