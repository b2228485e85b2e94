package audit

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, now time.Time) {
	t.Helper()
	recs := []Record{
		{
			Timestamp: now,
			RequestID: "req-1",
			Role:      "ADMIN",
			Tool:      "sql_db_query",
			SQL:       `SELECT "file_name" FROM "Expenses" LIMIT 100`,
			Verdict:   VerdictAllowed,
			Tables:    []string{"Expenses"},
			Rows:      12,
			Duration:  40 * time.Millisecond,
		},
		{
			Timestamp: now,
			RequestID: "req-1",
			Role:      "ADMIN",
			Tool:      "sql_db_query",
			SQL:       `DROP TABLE "Expenses"`,
			Verdict:   VerdictBlocked,
			Rule:      "read_only",
			Reason:    "only SELECT or WITH queries are permitted",
		},
		{
			Timestamp: now,
			RequestID: "req-2",
			Role:      "ENCODER",
			Tool:      "sql_db_query",
			SQL:       `SELECT nope FROM "Project" LIMIT 100`,
			Verdict:   VerdictAllowed,
			Tables:    []string{"Project"},
			Duration:  20 * time.Millisecond,
			Error:     "database: unknown_column: no such column: nope",
		},
		{
			Timestamp: now.Add(-48 * time.Hour),
			RequestID: "req-old",
			Role:      "ADMIN",
			Tool:      "sql_db_query",
			SQL:       "SELECT 1 LIMIT 100",
			Verdict:   VerdictAllowed,
			Rows:      1,
		},
	}
	for _, rec := range recs {
		if err := s.Record(context.Background(), rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	seed(t, s, now)

	sum, err := s.Summary(context.Background(), now.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if sum.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", sum.TotalRecords)
	}
	if sum.Allowed != 2 || sum.Blocked != 1 {
		t.Errorf("Allowed/Blocked = %d/%d, want 2/1", sum.Allowed, sum.Blocked)
	}
	if sum.Failed != 1 {
		t.Errorf("Failed = %d, want 1", sum.Failed)
	}
	if sum.TotalRows != 12 {
		t.Errorf("TotalRows = %d, want 12", sum.TotalRows)
	}
	if sum.AvgDurationMS != 20 {
		t.Errorf("AvgDurationMS = %v, want 20", sum.AvgDurationMS)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	sum, err := s.Summary(context.Background(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 || sum.AvgDurationMS != 0 {
		t.Errorf("expected zero summary, got %+v", sum)
	}
}

func TestSummaryByRole(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	seed(t, s, now)

	byRole, err := s.SummaryByRole(context.Background(), now.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByRole: %v", err)
	}
	if len(byRole) != 2 {
		t.Fatalf("roles = %d, want 2", len(byRole))
	}
	if byRole["ADMIN"].TotalRecords != 2 || byRole["ADMIN"].Blocked != 1 {
		t.Errorf("ADMIN = %+v", byRole["ADMIN"])
	}
	if byRole["ENCODER"].Failed != 1 {
		t.Errorf("ENCODER = %+v", byRole["ENCODER"])
	}
}

func TestSummaryByRule(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	seed(t, s, now)

	byRule, err := s.SummaryByRule(context.Background(), now.Add(-time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByRule: %v", err)
	}
	if byRule["read_only"] == nil || byRule["read_only"].Blocked != 1 {
		t.Errorf("read_only = %+v", byRule["read_only"])
	}
	if byRule[""] == nil || byRule[""].Allowed != 2 {
		t.Errorf("allowed group = %+v", byRule[""])
	}
}

func TestRecord_GeneratesIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := Record{RequestID: "r", Role: "ADMIN", Tool: "sql_db_query", SQL: "SELECT 1", Verdict: VerdictAllowed}
	for i := 0; i < 2; i++ {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT id) FROM audit_records`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("distinct ids = %d, want 2", n)
	}
}

func TestRecord_Concurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Record(ctx, Record{RequestID: "r", Role: "ADMIN", Tool: "sql_db_query", SQL: "SELECT 1", Verdict: VerdictAllowed})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Record: %v", err)
		}
	}

	now := time.Now()
	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 20 {
		t.Errorf("TotalRecords = %d, want 20", sum.TotalRecords)
	}
}
