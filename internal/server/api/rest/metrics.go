package rest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the HTTP surface and the
// accounting operations behind it.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TradesIngested  *prometheus.CounterVec
	ClaimsExecuted  prometheus.Counter
	ClaimedAmount   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referrald",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by path and status code.",
		}, []string{"path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "referrald",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),

		TradesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referrald",
			Name:      "trades_ingested_total",
			Help:      "Trade webhook outcomes by status (applied, duplicate, rejected).",
		}, []string{"status"}),

		ClaimsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "referrald",
			Name:      "claims_executed_total",
			Help:      "Successfully settled claims.",
		}),

		// Monitoring only; exact figures live in the ledger.
		ClaimedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referrald",
			Name:      "claimed_amount_total",
			Help:      "Total claimed amount by token.",
		}, []string{"token"}),
	}
}
