package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// tracerName is the OTel tracer name for agent invocations.
const tracerName = "datalookup/agent"

var (
	// invocationsTotal counts Answer calls.
	//
	// Labels:
	//   - outcome: "answered", "clarification" or a failure reason
	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datalookup",
			Subsystem: "agent",
			Name:      "invocations_total",
			Help:      "Agent invocations by outcome.",
		},
		[]string{"outcome"},
	)

	// iterations records loop iterations per invocation.
	iterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "datalookup",
			Subsystem: "agent",
			Name:      "iterations",
			Help:      "Reasoning loop iterations per invocation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)

	// parseFailuresTotal counts replies that held neither a tool call
	// nor a final answer.
	parseFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datalookup",
			Subsystem: "agent",
			Name:      "parse_failures_total",
			Help:      "Model replies the loop could not interpret.",
		},
	)

	// answerDuration measures end-to-end invocation time.
	answerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "datalookup",
			Subsystem: "agent",
			Name:      "answer_duration_seconds",
			Help:      "End-to-end duration of agent invocations.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)
)
