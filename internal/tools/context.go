package tools

import (
	"context"
	"sort"
	"sync"
	"time"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	metadataKey  contextKey = "query_metadata"
)

// WithRequestID adds the request ID to the context. Audit records carry
// it so statements can be traced back to the question that caused them.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request ID from the context.
// Returns "" if not set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Metadata accumulates query statistics for one agent invocation. It is
// safe for concurrent use.
type Metadata struct {
	mu        sync.Mutex
	queries   int
	blocked   int
	rows      int
	totalTime time.Duration
	tables    map[string]bool
}

// MetadataSnapshot is a point-in-time copy of [Metadata].
type MetadataSnapshot struct {
	QueryCount    int      `json:"query_count"`
	BlockedCount  int      `json:"blocked_count"`
	TotalRows     int      `json:"total_rows"`
	TotalTimeMS   int64    `json:"total_time_ms"`
	TablesQueried []string `json:"tables_queried"`
}

// WithMetadata attaches m to the context. Tools executed with the
// returned context record into m.
func WithMetadata(ctx context.Context, m *Metadata) context.Context {
	if m == nil {
		return ctx
	}
	return context.WithValue(ctx, metadataKey, m)
}

// MetadataFromContext returns the collector attached by [WithMetadata],
// or nil.
func MetadataFromContext(ctx context.Context) *Metadata {
	if m, ok := ctx.Value(metadataKey).(*Metadata); ok {
		return m
	}
	return nil
}

func (m *Metadata) recordQuery(rows int, elapsed time.Duration, tables []string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	m.rows += rows
	m.totalTime += elapsed
	if m.tables == nil {
		m.tables = make(map[string]bool)
	}
	for _, t := range tables {
		m.tables[t] = true
	}
}

func (m *Metadata) recordBlocked() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.blocked++
	m.mu.Unlock()
}

// Snapshot returns the accumulated statistics.
func (m *Metadata) Snapshot() MetadataSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	tables := make([]string, 0, len(m.tables))
	for t := range m.tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return MetadataSnapshot{
		QueryCount:    m.queries,
		BlockedCount:  m.blocked,
		TotalRows:     m.rows,
		TotalTimeMS:   m.totalTime.Milliseconds(),
		TablesQueried: tables,
	}
}
