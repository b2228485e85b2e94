package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
)

type fakeIntrospector struct {
	mu      sync.Mutex
	schema  map[string][]Column
	failOn  string
	queried []string
}

func (f *fakeIntrospector) Columns(_ context.Context, table string) ([]Column, error) {
	f.mu.Lock()
	f.queried = append(f.queried, table)
	f.mu.Unlock()
	if table == f.failOn {
		return nil, errors.New("connection reset")
	}
	return append([]Column(nil), f.schema[table]...), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSchema() map[string][]Column {
	return map[string][]Column{
		"Expenses": {
			{Name: "status", Type: "text", Nullable: true, Position: 3},
			{Name: "id", Type: "uuid", Position: 1},
			{Name: "file_name", Type: "text", Position: 2},
		},
		"Project": {
			{Name: "id", Type: "uuid", Position: 1},
			{Name: "project_name", Type: "text", Position: 2},
		},
		"users": {
			{Name: "password_hash", Type: "text", Position: 1},
		},
	}
}

func TestLoad_OnlyAllowlist(t *testing.T) {
	in := &fakeIntrospector{schema: testSchema()}
	c, err := Load(context.Background(), in, []string{"Project", "Expenses", "Expenses", " "}, discardLogger())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got, want := c.Tables(), []string{"Expenses", "Project"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Tables() = %v, want %v", got, want)
	}
	if c.Contains("users") {
		t.Error("Contains(users) = true for a table outside the allowlist")
	}
	queried := append([]string(nil), in.queried...)
	sort.Strings(queried)
	if want := []string{"Expenses", "Project"}; !reflect.DeepEqual(queried, want) {
		t.Errorf("introspected %v, want each allowlisted table once: %v", queried, want)
	}
}

func TestLoad_ColumnsOrdered(t *testing.T) {
	c, err := Load(context.Background(), &fakeIntrospector{schema: testSchema()}, []string{"Expenses"}, discardLogger())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cols, err := c.Columns("Expenses")
	if err != nil {
		t.Fatalf("Columns() error: %v", err)
	}
	var names []string
	for _, col := range cols {
		names = append(names, col.Name)
	}
	if want := []string{"id", "file_name", "status"}; !reflect.DeepEqual(names, want) {
		t.Errorf("column order = %v, want %v", names, want)
	}
}

func TestLoad_MissingTableKept(t *testing.T) {
	c, err := Load(context.Background(), &fakeIntrospector{schema: testSchema()}, []string{"Ghost"}, discardLogger())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !c.Contains("Ghost") {
		t.Error("Contains(Ghost) = false, want allowlisted table kept")
	}
	cols, err := c.Columns("Ghost")
	if err != nil {
		t.Fatalf("Columns() error: %v", err)
	}
	if len(cols) != 0 {
		t.Errorf("Columns(Ghost) = %v, want none", cols)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(context.Background(), &fakeIntrospector{}, nil, discardLogger()); err == nil {
		t.Error("Load() with an empty allowlist: want error")
	}

	_, err := Load(context.Background(), &fakeIntrospector{schema: testSchema(), failOn: "Project"}, []string{"Project"}, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Load() error = %v, want the introspection failure", err)
	}
}

func TestColumns_UnknownTable(t *testing.T) {
	c := New(testSchema())
	if _, err := c.Columns("Billing"); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Columns(Billing) error = %v, want ErrUnknownTable", err)
	}
}

func TestContains_IsCaseSensitive(t *testing.T) {
	c := New(testSchema())
	if !c.Contains("Expenses") {
		t.Error("Contains(Expenses) = false")
	}
	if c.Contains("expenses") {
		t.Error("Contains(expenses) = true, want case-sensitive match")
	}

	if name, ok := c.Lookup("expenses"); !ok || name != "Expenses" {
		t.Errorf("Lookup(expenses) = %q, %v, want Expenses, true", name, ok)
	}
	if _, ok := c.Lookup("billing"); ok {
		t.Error("Lookup(billing) found a table")
	}
}

func TestRestrict(t *testing.T) {
	c := New(testSchema())

	r, err := c.Restrict([]string{"Project"})
	if err != nil {
		t.Fatalf("Restrict() error: %v", err)
	}
	if got := r.Tables(); !reflect.DeepEqual(got, []string{"Project"}) {
		t.Errorf("Tables() = %v, want [Project]", got)
	}
	if r.Contains("Expenses") {
		t.Error("restricted catalog still contains Expenses")
	}

	if _, err := c.Restrict([]string{"Billing"}); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Restrict(Billing) error = %v, want ErrUnknownTable", err)
	}
}

func TestTables_ReturnsCopy(t *testing.T) {
	c := New(testSchema())
	tables := c.Tables()
	tables[0] = "mutated"
	if slices.Contains(c.Tables(), "mutated") {
		t.Error("Tables() result aliases the catalog")
	}
}

func TestDescribe(t *testing.T) {
	c := New(map[string][]Column{
		"Project": {
			{Name: "id", Type: "uuid", Position: 1},
			{Name: "project_name", Type: "text", Nullable: true, Position: 2},
		},
		"Empty": nil,
	})

	got, err := c.Describe("Project")
	if err != nil {
		t.Fatalf("Describe(Project) error: %v", err)
	}
	if want := "TABLE \"Project\" (\n  \"id\" uuid NOT NULL,\n  \"project_name\" text\n)"; got != want {
		t.Errorf("Describe(Project) = %q, want %q", got, want)
	}

	got, err = c.Describe("Empty")
	if err != nil {
		t.Fatalf("Describe(Empty) error: %v", err)
	}
	if !strings.Contains(got, "no visible columns") {
		t.Errorf("Describe(Empty) = %q, want a no-columns note", got)
	}

	if _, err := c.Describe("Nope"); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Describe(Nope) error = %v, want ErrUnknownTable", err)
	}
}
