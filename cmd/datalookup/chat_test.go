package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/datalookup/internal/agent"
	"github.com/nugget/datalookup/internal/history"
	"github.com/nugget/datalookup/internal/suggest"
	"github.com/nugget/datalookup/internal/tools"
)

// scriptedAgent replies from a fixed map and records each request.
type scriptedAgent struct {
	replies  map[string]*agent.Result
	errs     map[string]error
	requests []agent.Request
}

func (s *scriptedAgent) Answer(_ context.Context, req agent.Request) (*agent.Result, error) {
	s.requests = append(s.requests, req)
	if err, ok := s.errs[req.Question]; ok {
		return nil, err
	}
	if res, ok := s.replies[req.Question]; ok {
		return res, nil
	}
	return &agent.Result{Answer: "I don't know."}, nil
}

func newTestREPL(a answerer, input string) (*repl, *bytes.Buffer) {
	var out bytes.Buffer
	return &repl{
		agent:  a,
		role:   "ADMIN",
		window: history.New(history.DefaultCap),
		in:     strings.NewReader(input),
		out:    &out,
	}, &out
}

func TestREPL_AnswersAndCarriesHistory(t *testing.T) {
	a := &scriptedAgent{replies: map[string]*agent.Result{
		"How many trips?": {
			Answer: "There are 12 trips.",
			Metadata: agent.Metadata{MetadataSnapshot: tools.MetadataSnapshot{
				QueryCount:    1,
				TotalRows:     1,
				TotalTimeMS:   8,
				TablesQueried: []string{"Trip"},
			}},
			Suggestions: []string{"Show trips by status"},
		},
	}}
	r, out := newTestREPL(a, "How many trips?\nAnd last week?\nquit\nnever asked\n")

	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(a.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(a.requests))
	}
	if a.requests[0].History.Len() != 0 {
		t.Errorf("first request history = %d entries, want 0", a.requests[0].History.Len())
	}
	got := a.requests[1].History.Entries()
	if len(got) != 1 || got[0].Question != "How many trips?" || got[0].Answer != "There are 12 trips." {
		t.Errorf("second request history = %+v", got)
	}
	for _, req := range a.requests {
		if req.Role != "ADMIN" {
			t.Errorf("role = %q, want ADMIN", req.Role)
		}
	}

	text := out.String()
	for _, want := range []string{
		"Assistant: There are 12 trips.",
		"1 queries | 1 rows | 8ms | tables: Trip",
		"You might also ask:",
		"  - Show trips by status",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "You: ") {
		t.Error("prompt printed for non-interactive input")
	}
}

func TestREPL_ClarificationNotRemembered(t *testing.T) {
	a := &scriptedAgent{replies: map[string]*agent.Result{
		"status": {
			Answer: "Which status do you mean?",
			Clarification: &suggest.Clarification{
				Clarification: "Which status do you mean?",
				Options:       []string{"Trip status", "Quotation status"},
			},
			Suggestions: []string{"Trip status", "Quotation status"},
		},
	}}
	r, out := newTestREPL(a, "status\nTrip status\n")

	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "Did you mean:\n  1. Trip status\n  2. Quotation status\n") {
		t.Errorf("clarification options not listed:\n%s", text)
	}
	if a.requests[1].History.Len() != 0 {
		t.Errorf("clarification was added to history: %+v", a.requests[1].History.Entries())
	}
}

func TestREPL_FailureContinues(t *testing.T) {
	a := &scriptedAgent{errs: map[string]error{
		"boom":  &agent.Failure{Reason: agent.ReasonLoopExhausted, Err: agent.ErrLoopExhausted},
		"weird": errors.New("something odd"),
	}}
	r, out := newTestREPL(a, "boom\nweird\nexit\n")

	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	f := &agent.Failure{Reason: agent.ReasonLoopExhausted}
	if !strings.Contains(text, "Assistant: "+f.Message()) {
		t.Errorf("failure message not shown:\n%s", text)
	}
	if !strings.Contains(text, "Error: something odd") {
		t.Errorf("unexpected error not shown:\n%s", text)
	}
	if len(a.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(a.requests))
	}
	if a.requests[1].History.Len() != 0 {
		t.Error("failed exchange was added to history")
	}
}

func TestREPL_CanceledContextEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &scriptedAgent{errs: map[string]error{"q1": context.Canceled}}
	r, _ := newTestREPL(a, "q1\nq2\n")

	err := r.run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v, want context.Canceled", err)
	}
	if len(a.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(a.requests))
	}
}

func TestREPL_SkipsBlankLines(t *testing.T) {
	a := &scriptedAgent{}
	r, _ := newTestREPL(a, "\n   \nQ\n")

	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(a.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(a.requests))
	}
}
