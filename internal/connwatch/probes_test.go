package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestPingProbe(t *testing.T) {
	t.Parallel()

	if err := PingProbe(ServiceDatabase, fakePinger{})(context.Background()); err != nil {
		t.Errorf("healthy probe returned %v", err)
	}

	cause := errors.New("connection refused")
	err := PingProbe(ServiceLLM, fakePinger{err: cause})(context.Background())
	if !errors.Is(err, cause) {
		t.Errorf("probe error = %v, want wrapped cause", err)
	}
	if !strings.HasPrefix(err.Error(), "llm: ") {
		t.Errorf("probe error = %q, want service prefix", err)
	}
}

func TestManager_Ready(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(slog.Default())
	defer m.Stop()

	m.Watch(ctx, Service{
		Name:     ServiceLLM,
		Probe:    PingProbe(ServiceLLM, fakePinger{}),
		Schedule: testSchedule(),
	})
	m.Watch(ctx, Service{
		Name:     ServiceDatabase,
		Probe:    PingProbe(ServiceDatabase, fakePinger{err: errors.New("no route to host")}),
		Schedule: testSchedule(),
	})

	time.Sleep(50 * time.Millisecond)

	if !m.Ready(ServiceLLM) {
		t.Error("llm should be ready")
	}
	if m.Ready(ServiceDatabase) {
		t.Error("database should not be ready")
	}
	if !m.Ready("not-watched") {
		t.Error("unwatched services count as ready")
	}
	if m.AllReady() {
		t.Error("AllReady() should be false while the database is down")
	}

	status := m.Status()[ServiceDatabase]
	if !strings.Contains(status.LastError, "database: no route to host") {
		t.Errorf("LastError = %q", status.LastError)
	}
}
