// Package database runs guard-approved statements against a read-only
// connection. Two executors are provided: PostgreSQL through a pgx pool
// and SQLite through modernc.org/sqlite. Both refuse writes at the
// connection level, independently of any validation done by callers.
package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nugget/datalookup/internal/catalog"
)

// Executor runs read-only statements. Implementations are safe for
// concurrent use.
type Executor interface {
	catalog.Introspector

	// Query runs sql and returns at most maxRows rows. A non-positive
	// maxRows means no cap.
	Query(ctx context.Context, sql string, maxRows int) (*ResultSet, error)

	// Explain returns the query plan for sql without running it.
	Explain(ctx context.Context, sql string) (string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Dialect names the SQL dialect, "postgres" or "sqlite".
	Dialect() string

	// Schema is the only schema table names resolve in.
	Schema() string

	Close()
}

// ResultSet holds rows already converted to JSON-friendly values:
// nil, bool, int64, float64 or string.
type ResultSet struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
	Elapsed   time.Duration
}

// Format renders rows as a compact pipe-separated table for the model.
// At most maxRows rows and roughly maxBytes bytes are written; anything
// beyond is summarized in a trailing note. Non-positive limits disable
// the corresponding cap.
func (r *ResultSet) Format(maxRows, maxBytes int) string {
	if len(r.Rows) == 0 {
		if len(r.Columns) == 0 {
			return "Query returned no rows."
		}
		return fmt.Sprintf("Query returned no rows. Columns: %s", strings.Join(r.Columns, ", "))
	}

	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	b.WriteByte('\n')

	shown := 0
	for _, row := range r.Rows {
		if maxRows > 0 && shown >= maxRows {
			break
		}
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = FormatValue(v)
		}
		line := strings.Join(cells, " | ")
		if maxBytes > 0 && shown > 0 && b.Len()+len(line) > maxBytes {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
		shown++
	}

	switch hidden := len(r.Rows) - shown; {
	case hidden > 0:
		fmt.Fprintf(&b, "(%d rows shown, %d more not shown)", shown, hidden)
	case r.Truncated:
		fmt.Fprintf(&b, "(%d rows shown, more rows exist)", shown)
	default:
		fmt.Fprintf(&b, "(%d rows)", shown)
	}
	return b.String()
}

// FormatValue renders one normalized cell.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// normalizeValue converts driver values into the ResultSet value set.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	case time.Duration:
		return x.String()
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return fmt.Sprint(x)
		}
		return f.Float64
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return fmt.Sprint(x)
		}
		if _, again := dv.(driver.Valuer); again {
			return fmt.Sprint(dv)
		}
		return normalizeValue(dv)
	case fmt.Stringer:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(normalizeValue(e))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprint(v)
	}
}
