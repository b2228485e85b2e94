package connwatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	serviceReady = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "datalookup",
		Subsystem: "connwatch",
		Name:      "service_ready",
		Help:      "1 when the watched service answered its last probe.",
	}, []string{"service"})

	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datalookup",
		Subsystem: "connwatch",
		Name:      "probes_total",
		Help:      "Health probes by service and outcome.",
	}, []string{"service", "outcome"})
)

func probeOutcome(err error) string {
	if err != nil {
		return "down"
	}
	return "up"
}
