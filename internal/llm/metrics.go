package llm

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// tracerName is the OTel tracer name for model calls.
const tracerName = "datalookup/llm"

var (
	// callDuration measures individual backend calls, including the
	// empty-generation retry as a separate observation.
	//
	// Labels:
	//   - status: "success" or "error"
	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datalookup",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of model backend calls in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// callsTotal counts backend calls.
	//
	// Labels:
	//   - status: "success" or "error"
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datalookup",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total number of model backend calls.",
		},
		[]string{"status"},
	)

	// errorsTotal counts failed sends by class.
	//
	// Labels:
	//   - error_type: "unreachable", "empty_response", "api", "timeout", "canceled", "unknown"
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datalookup",
			Subsystem: "llm",
			Name:      "errors_total",
			Help:      "Total failed model sends by error type.",
		},
		[]string{"error_type"},
	)

	// retriesTotal counts empty-generation retries.
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "datalookup",
		Subsystem: "llm",
		Name:      "empty_retries_total",
		Help:      "Retries issued after an empty generation.",
	})

	// tokensTotal counts tokens reported by the backend.
	//
	// Labels:
	//   - direction: "input" or "output"
	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datalookup",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by model calls.",
		},
		[]string{"direction"},
	)
)

// classifyError maps an error to a label-safe error type string.
func classifyError(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBackendUnreachable):
		return "unreachable"
	case errors.Is(err, ErrEmptyGeneration):
		return "empty_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &apiErr):
		return "api"
	default:
		return "unknown"
	}
}

func recordCall(duration time.Duration, resp *ChatResponse, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	callDuration.WithLabelValues(status).Observe(duration.Seconds())
	callsTotal.WithLabelValues(status).Inc()
	if resp != nil {
		tokensTotal.WithLabelValues("input").Add(float64(resp.InputTokens))
		tokensTotal.WithLabelValues("output").Add(float64(resp.OutputTokens))
	}
}

func recordFailure(err error) {
	errorsTotal.WithLabelValues(classifyError(err)).Inc()
}
