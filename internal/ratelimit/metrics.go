package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	// decisions counts limiter outcomes by tier: allowed, denied, degraded
	// (allowed because the store failed) or unavailable (denied for the same
	// reason under fail-closed).
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_decisions_total",
			Help: "Rate limit decisions by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	storeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_store_errors_total",
			Help: "Failed rate limit store round trips.",
		},
	)
)

func init() {
	prometheus.MustRegister(decisions, storeErrors)
}
