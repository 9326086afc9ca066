package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(upstreamAttemptsTotal, upstreamLatencyMs)
}

var (
	upstreamAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_attempts_total",
			Help: "Upstream generation attempts by model and outcome.",
		},
		[]string{"model", "outcome"}, // 'success', 'transient', 'actionable'
	)

	upstreamLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_call_latency_ms",
			Help:    "Upstream resolution-pass latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"model", "outcome"},
	)
)

func ObserveUpstreamCall(model, outcome string, latency time.Duration) {
	lbl := []string{norm(model), norm(outcome)}
	upstreamAttemptsTotal.WithLabelValues(lbl...).Inc()
	upstreamLatencyMs.WithLabelValues(lbl...).Observe(float64(latency / time.Millisecond))
}
