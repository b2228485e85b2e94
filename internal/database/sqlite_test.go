package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedSQLite writes a small fixture database and returns its path.
func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE "Project" (id INTEGER PRIMARY KEY, project_name TEXT NOT NULL, budget REAL)`,
		`CREATE TABLE "Expenses" (id INTEGER PRIMARY KEY, project_id INTEGER NOT NULL, file_name TEXT NOT NULL, amount REAL, status TEXT)`,
		`INSERT INTO "Project" VALUES (1, 'Bridge', 1200.5), (2, 'Tunnel', NULL)`,
		`INSERT INTO "Expenses" VALUES
			(1, 1, 'receipt-001.pdf', 12.5, 'approved'),
			(2, 1, 'receipt-002.pdf', 40, 'pending'),
			(3, 2, 'invoice-17.pdf', 300.25, 'approved')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed %q: %v", s, err)
		}
	}
	return path
}

func openFixture(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), seedSQLite(t), Options{QueryTimeout: 5 * time.Second}, discardLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// queryError asserts err is a *QueryError and returns it.
func queryError(t *testing.T, err error, what string) *QueryError {
	t.Helper()
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("%s: error = %v, want *QueryError", what, err)
	}
	return qe
}

func TestSQLite_Query(t *testing.T) {
	s := openFixture(t)

	rs, err := s.Query(context.Background(), `SELECT "file_name", amount FROM "Expenses" ORDER BY id`, 0)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if want := []string{"file_name", "amount"}; !reflect.DeepEqual(rs.Columns, want) {
		t.Errorf("Columns = %v, want %v", rs.Columns, want)
	}
	if len(rs.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rs.Rows))
	}
	if want := []any{"receipt-001.pdf", 12.5}; !reflect.DeepEqual(rs.Rows[0], want) {
		t.Errorf("Rows[0] = %#v, want %#v", rs.Rows[0], want)
	}
	if rs.Truncated {
		t.Error("Truncated = true without a row cap")
	}
}

func TestSQLite_QueryMaxRows(t *testing.T) {
	s := openFixture(t)

	rs, err := s.Query(context.Background(), `SELECT id FROM "Expenses" ORDER BY id`, 2)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(rs.Rows) != 2 {
		t.Errorf("got %d rows, want 2", len(rs.Rows))
	}
	if !rs.Truncated {
		t.Error("Truncated = false, want true")
	}
	if want := []any{int64(1)}; !reflect.DeepEqual(rs.Rows[0], want) {
		t.Errorf("Rows[0] = %#v, want %#v", rs.Rows[0], want)
	}
}

func TestSQLite_NullValues(t *testing.T) {
	s := openFixture(t)

	rs, err := s.Query(context.Background(), `SELECT budget FROM "Project" WHERE id = 2`, 0)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rs.Rows))
	}
	if rs.Rows[0][0] != nil {
		t.Errorf("budget = %#v, want nil", rs.Rows[0][0])
	}
}

func TestSQLite_RejectsWrites(t *testing.T) {
	s := openFixture(t)

	for _, stmt := range []string{
		`DELETE FROM "Expenses"`,
		`UPDATE "Project" SET budget = 0`,
		`DROP TABLE "Expenses"`,
	} {
		_, err := s.Query(context.Background(), stmt, 0)
		if qe := queryError(t, err, stmt); qe.Kind != KindReadOnly {
			t.Errorf("%s: Kind = %v, want read_only (%v)", stmt, qe.Kind, err)
		}
	}

	rs, err := s.Query(context.Background(), `SELECT count(*) FROM "Expenses"`, 0)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if got := rs.Rows[0][0]; got != int64(3) {
		t.Errorf("count = %v, want 3 rows surviving write attempts", got)
	}
}

func TestSQLite_ErrorKinds(t *testing.T) {
	s := openFixture(t)

	tests := []struct {
		sql  string
		kind ErrorKind
	}{
		{`SELECT * FROM "expenses_typo"`, KindUnknownTable},
		{`SELECT nope FROM "Expenses"`, KindUnknownColumn},
		{`SELECT FROM WHERE`, KindSyntax},
	}
	for _, tt := range tests {
		_, err := s.Query(context.Background(), tt.sql, 0)
		qe := queryError(t, err, tt.sql)
		if qe.Kind != tt.kind {
			t.Errorf("%s: Kind = %v, want %v (%v)", tt.sql, qe.Kind, tt.kind, err)
		}
		if qe.SQL != tt.sql {
			t.Errorf("SQL = %q, want %q", qe.SQL, tt.sql)
		}
	}
}

func TestSQLite_Explain(t *testing.T) {
	s := openFixture(t)

	plan, err := s.Explain(context.Background(), `SELECT * FROM "Expenses" WHERE id = 1`)
	if err != nil {
		t.Fatalf("Explain() error: %v", err)
	}
	if plan == "" {
		t.Error("Explain() returned an empty plan")
	}

	_, err = s.Explain(context.Background(), `SELECT * FROM "Missing"`)
	if qe := queryError(t, err, "explain missing table"); qe.Kind != KindUnknownTable {
		t.Errorf("Kind = %v, want unknown_table", qe.Kind)
	}
}

func TestSQLite_Columns(t *testing.T) {
	s := openFixture(t)

	cols, err := s.Columns(context.Background(), "Expenses")
	if err != nil {
		t.Fatalf("Columns() error: %v", err)
	}
	if len(cols) != 5 {
		t.Fatalf("got %d columns, want 5", len(cols))
	}
	if cols[0].Name != "id" || cols[0].Position != 1 {
		t.Errorf("cols[0] = %+v, want id at position 1", cols[0])
	}
	if cols[2].Name != "file_name" || cols[2].Type != "TEXT" || cols[2].Nullable {
		t.Errorf("cols[2] = %+v, want NOT NULL TEXT file_name", cols[2])
	}
	if !cols[3].Nullable {
		t.Errorf("cols[3] = %+v, want nullable", cols[3])
	}

	missing, err := s.Columns(context.Background(), "Ghost")
	if err != nil {
		t.Fatalf("Columns(Ghost) error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("Columns(Ghost) = %v, want none", missing)
	}
}

func TestSQLite_Metadata(t *testing.T) {
	s := openFixture(t)
	if got := s.Dialect(); got != "sqlite" {
		t.Errorf("Dialect() = %q", got)
	}
	if got := s.Schema(); got != "main" {
		t.Errorf("Schema() = %q", got)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x", Options{}, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("Open(oracle) error = %v, want unsupported driver", err)
	}
}

func TestOpen_SQLiteMissingFile(t *testing.T) {
	_, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "absent.db"), Options{}, discardLogger())
	if err == nil {
		t.Error("read-only open created a missing database")
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/data/app.db")
	if !strings.HasPrefix(dsn, "file:/data/app.db?") {
		t.Errorf("SQLiteDSN() = %q, want file URI", dsn)
	}
	for _, want := range []string{"mode=ro", "query_only"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("SQLiteDSN() = %q, missing %q", dsn, want)
		}
	}
}

func TestResultSet_Format(t *testing.T) {
	rs := &ResultSet{
		Columns: []string{"file_name", "amount"},
		Rows: [][]any{
			{"a.pdf", 12.5},
			{"b.pdf", int64(40)},
			{"c.pdf", nil},
		},
	}

	if got, want := rs.Format(0, 0), "file_name | amount\na.pdf | 12.5\nb.pdf | 40\nc.pdf | NULL\n(3 rows)"; got != want {
		t.Errorf("Format(0, 0) = %q, want %q", got, want)
	}
	if got, want := rs.Format(1, 0), "file_name | amount\na.pdf | 12.5\n(1 rows shown, 2 more not shown)"; got != want {
		t.Errorf("Format(1, 0) = %q, want %q", got, want)
	}

	got := rs.Format(0, 30)
	if !strings.Contains(got, "a.pdf | 12.5") || !strings.Contains(got, "more not shown") {
		t.Errorf("Format(0, 30) = %q, want first row and a truncation note", got)
	}

	rs.Truncated = true
	if got := rs.Format(0, 0); !strings.Contains(got, "more rows exist") {
		t.Errorf("Format() on a truncated set = %q, want a more-rows note", got)
	}
}

func TestResultSet_FormatEmpty(t *testing.T) {
	if got := (&ResultSet{}).Format(10, 100); got != "Query returned no rows." {
		t.Errorf("Format() = %q", got)
	}
	if got := (&ResultSet{Columns: []string{"a", "b"}}).Format(10, 100); got != "Query returned no rows. Columns: a, b" {
		t.Errorf("Format() = %q", got)
	}
}

func TestNormalizeValue(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	moment := time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
	id := [16]byte{0x01, 0x8f}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"date", day, "2025-03-01"},
		{"timestamp", moment, "2025-03-01T14:30:00Z"},
		{"int32", int32(7), int64(7)},
		{"bytes", []byte("bytes"), "bytes"},
		{"uuid", id, "018f0000-0000-0000-0000-000000000000"},
		{"array", []any{int64(1), "x"}, "{1,x}"},
	}
	for _, tt := range tests {
		if got := normalizeValue(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: normalizeValue() = %#v, want %#v", tt.name, got, tt.want)
		}
	}
}

func TestQueryError(t *testing.T) {
	base := errors.New("relation \"x\" does not exist")
	qe := &QueryError{Kind: KindUnknownTable, SQL: "SELECT 1", Err: base}
	if !errors.Is(qe, base) {
		t.Error("QueryError does not unwrap to its cause")
	}
	if !strings.Contains(qe.Error(), "unknown_table") {
		t.Errorf("Error() = %q, want the kind", qe.Error())
	}
	if qe.Hint() == "" {
		t.Error("Hint() empty for unknown_table")
	}
	if h := (&QueryError{Kind: KindOther}).Hint(); h != "" {
		t.Errorf("Hint() for other = %q, want empty", h)
	}

	timeout := classifySQLite("SELECT 1", context.DeadlineExceeded)
	if qe := queryError(t, timeout, "timeout"); qe.Kind != KindTimeout {
		t.Errorf("Kind = %v, want timeout", qe.Kind)
	}
	if !errors.Is(timeout, context.DeadlineExceeded) {
		t.Error("timeout error does not unwrap to context.DeadlineExceeded")
	}
}
