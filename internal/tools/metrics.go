package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK      = "ok"
	outcomeBlocked = "blocked"
	outcomeError   = "error"
	outcomeFatal   = "fatal"
	outcomeInvalid = "invalid"
)

// executionsTotal counts tool executions.
//
// Labels:
//   - tool: tool name, "unknown" for unregistered names
//   - outcome: ok, blocked, error, fatal or invalid
var executionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datalookup",
		Subsystem: "tools",
		Name:      "executions_total",
		Help:      "Tool executions by tool and outcome.",
	},
	[]string{"tool", "outcome"},
)

// queryDuration tracks database time for sql_db_query.
var queryDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "datalookup",
		Subsystem: "tools",
		Name:      "query_duration_seconds",
		Help:      "Duration of executed guard-approved queries.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
)
