package proxy

import "github.com/prometheus/client_golang/prometheus"

var (
	upstreamReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Proxied requests by service and outcome (ok, timeout, unavailable, canceled).",
		},
		[]string{"service", "outcome"},
	)

	upstreamLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Time from forwarding a request to finishing its response.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// breakerState is 0 closed, 1 half-open, 2 open.
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service"},
	)
)

func init() {
	prometheus.MustRegister(upstreamReqs, upstreamLat, breakerState)
}
