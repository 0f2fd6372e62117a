// Package metrics exposes the gateway's Prometheus instrumentation. All
// collectors are package-level and registered once at init; callers update
// them directly and serve Handler() on the metrics route.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle
	SessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "glaskasten_sessions_live",
			Help: "Number of live sessions",
		},
	)

	SessionsTerminating = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "glaskasten_sessions_terminating",
			Help: "Number of sessions whose container teardown is still pending",
		},
	)

	PoolReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "glaskasten_pool_ready",
			Help: "Number of pre-warmed containers ready to claim",
		},
	)

	SessionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaskasten_sessions_created_total",
			Help: "Total sessions created, by container origin (cold or pooled)",
		},
		[]string{"origin"},
	)

	SessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaskasten_sessions_closed_total",
			Help: "Total sessions closed, by reason",
		},
		[]string{"reason"},
	)

	// Execution
	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaskasten_executions_total",
			Help: "Total completed executions, by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "glaskasten_execution_seconds",
			Help:    "Wall time of completed executions in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// API surface
	OperationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glaskasten_operation_requests_total",
			Help: "Total operation requests, by operation and result code (ok on success)",
		},
		[]string{"operation", "code"},
	)

	OperationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glaskasten_operation_seconds",
			Help:    "Operation handling time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(SessionsLive)
	prometheus.MustRegister(SessionsTerminating)
	prometheus.MustRegister(PoolReady)
	prometheus.MustRegister(SessionsCreated)
	prometheus.MustRegister(SessionsClosed)
	prometheus.MustRegister(Executions)
	prometheus.MustRegister(ExecutionSeconds)
	prometheus.MustRegister(OperationRequests)
	prometheus.MustRegister(OperationSeconds)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
