// Package audit keeps an append-only log of every statement the agent
// tried to run: the guard verdict, and for allowed statements the
// execution outcome. Records are indexed by timestamp, request and role
// for aggregation.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timestampLayout has fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// Verdict values stored with each record.
const (
	VerdictAllowed = "allowed"
	VerdictBlocked = "blocked"
)

// Record is one statement the agent attempted.
type Record struct {
	ID        string
	Timestamp time.Time
	RequestID string
	Role      string
	Tool      string // "sql_db_query", "sql_db_query_checker", "sql_db_schema"
	SQL       string
	Verdict   string // VerdictAllowed or VerdictBlocked
	Rule      string // rejecting guard rule, empty when allowed
	Reason    string
	Tables    []string
	Rows      int
	Duration  time.Duration
	Error     string // execution error for allowed statements
}

// Recorder accepts audit records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Summary holds aggregated totals.
type Summary struct {
	TotalRecords  int     `json:"total_records"`
	Allowed       int     `json:"allowed"`
	Blocked       int     `json:"blocked"`
	Failed        int     `json:"failed"`
	TotalRows     int64   `json:"total_rows"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Store is an append-only SQLite store for audit records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		request_id  TEXT NOT NULL,
		role        TEXT NOT NULL,
		tool        TEXT NOT NULL,
		sql_text    TEXT NOT NULL,
		verdict     TEXT NOT NULL,
		rule        TEXT,
		reason      TEXT,
		tables      TEXT,
		row_count   INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_records(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_role ON audit_records(role);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists an audit record. If rec.ID is empty, a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("audit: generate record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records
			(id, timestamp, request_id, role, tool, sql_text, verdict, rule, reason,
			 tables, row_count, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(timestampLayout),
		rec.RequestID,
		rec.Role,
		rec.Tool,
		rec.SQL,
		rec.Verdict,
		rec.Rule,
		rec.Reason,
		strings.Join(rec.Tables, ","),
		rec.Rows,
		rec.Duration.Milliseconds(),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

const summaryColumns = `COUNT(*),
	COALESCE(SUM(CASE WHEN verdict = 'allowed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN verdict = 'blocked' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN error IS NOT NULL AND error <> '' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(row_count), 0),
	COALESCE(AVG(duration_ms), 0)`

func (sum *Summary) scanFrom(dest ...any) []any {
	return append(dest, &sum.TotalRecords, &sum.Allowed, &sum.Blocked, &sum.Failed, &sum.TotalRows, &sum.AvgDurationMS)
}

// Summary returns aggregated totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+`
		 FROM audit_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(timestampLayout),
		end.UTC().Format(timestampLayout),
	)

	var sum Summary
	if err := row.Scan(sum.scanFrom()...); err != nil {
		return nil, fmt.Errorf("audit: query summary: %w", err)
	}
	return &sum, nil
}

// SummaryByRole returns per-role totals for records within [start, end).
func (s *Store) SummaryByRole(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "role", start, end)
}

// SummaryByRule returns totals keyed by guard rule. Allowed statements
// are grouped under "".
func (s *Store) SummaryByRule(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "rule", start, end)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	// column is always a constant from our own methods, never user input.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), `+summaryColumns+`
		 FROM audit_records
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY COALESCE(%s, '')`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(timestampLayout),
		end.UTC().Format(timestampLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query summary by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(sum.scanFrom(&key)...); err != nil {
			return nil, fmt.Errorf("audit: scan summary by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
