package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/datalookup/internal/catalog"
)

// SQLite executes statements against a database file opened read-only
// with query_only set on every connection.
type SQLite struct {
	db      *sql.DB
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// SQLiteDSN builds a read-only modernc DSN for path.
func SQLiteDSN(path string) string {
	v := url.Values{}
	v.Set("mode", "ro")
	v.Add("_pragma", "query_only(1)")
	v.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + v.Encode()
}

// OpenSQLite opens path read-only and verifies it can be queried.
func OpenSQLite(ctx context.Context, path string, opts Options, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("database: open sqlite %s: %w", path, err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(int(opts.MaxConns))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping sqlite %s: %w", path, err)
	}

	logger.Info("sqlite database ready", "path", path)
	return &SQLite{db: db, path: path, timeout: opts.QueryTimeout, logger: logger}, nil
}

// Dialect implements Executor.
func (s *SQLite) Dialect() string { return "sqlite" }

// Schema implements Executor.
func (s *SQLite) Schema() string { return "main" }

// Ping checks that the file is still readable.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database handle.
func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close sqlite", "path", s.path, "error", err)
	}
}

func (s *SQLite) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// Query implements Executor.
func (s *SQLite) Query(ctx context.Context, query string, maxRows int) (*ResultSet, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifySQLite(query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifySQLite(query, err)
	}
	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			rs.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifySQLite(query, err)
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite(query, err)
	}
	rs.Elapsed = time.Since(start)
	return rs, nil
}

// Explain implements Executor using EXPLAIN QUERY PLAN.
func (s *SQLite) Explain(ctx context.Context, query string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query)
	if err != nil {
		return "", classifySQLite(query, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		if err := rows.Scan(&id, &parent, &notUsed, &detail); err != nil {
			return "", classifySQLite(query, err)
		}
		lines = append(lines, detail)
	}
	if err := rows.Err(); err != nil {
		return "", classifySQLite(query, err)
	}
	return strings.Join(lines, "\n"), nil
}

// Columns implements catalog.Introspector.
func (s *SQLite) Columns(ctx context.Context, table string) ([]catalog.Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, "notnull", cid FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("database: introspect %q: %w", table, err)
	}
	defer rows.Close()

	var cols []catalog.Column
	for rows.Next() {
		var c catalog.Column
		var notNull bool
		if err := rows.Scan(&c.Name, &c.Type, &notNull, &c.Position); err != nil {
			return nil, fmt.Errorf("database: introspect %q: %w", table, err)
		}
		c.Nullable = !notNull
		c.Position++
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: introspect %q: %w", table, err)
	}
	return cols, nil
}
