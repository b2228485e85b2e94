package sqlguard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// verdictsTotal counts guard verdicts.
//
// Labels:
//   - verdict: "allow" or "reject"
//   - rule: the rejecting rule, "none" for allowed statements
var verdictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datalookup",
		Subsystem: "sqlguard",
		Name:      "verdicts_total",
		Help:      "SQL guard verdicts by outcome and rule.",
	},
	[]string{"verdict", "rule"},
)

func recordVerdict(v Verdict) {
	verdict := "reject"
	if v.Allowed {
		verdict = "allow"
	}
	verdictsTotal.WithLabelValues(verdict, v.Rule.String()).Inc()
}
