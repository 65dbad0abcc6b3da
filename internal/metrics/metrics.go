// Package metrics holds the process-wide prometheus collectors for the
// replicator, registered through promauto exactly as the teacher's
// internal/telemetry package registers its HTTP collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outcomes counts every terminal coordinator reply, labeled by
	// replication method and whether it was a success.
	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_outcomes_total",
			Help: "Total replication requests by method and result",
		},
		[]string{"method", "result"},
	)

	// QuorumFailures counts replies that failed because the write
	// quorum could not be reached, separate from timeouts.
	QuorumFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_quorum_failures_total",
			Help: "Replication requests that failed to reach write quorum",
		},
		[]string{"method"},
	)

	// Timeouts counts replies produced by the coordinator's deadline
	// firing before quorum was decided either way.
	Timeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_timeouts_total",
			Help: "Replication requests that timed out before quorum was decided",
		},
		[]string{"method"},
	)

	// RepairEnqueues counts every repair-queue publish, by error kind.
	RepairEnqueues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_repair_enqueues_total",
			Help: "Total repair queue entries published, by error kind",
		},
		[]string{"kind"},
	)

	// RequestDuration tracks end-to-end Replicate latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replicator_request_duration_seconds",
			Help:    "Replicate() latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Handler returns the HTTP handler a node process mounts its metrics
// endpoint on.
func Handler() http.Handler {
	return promhttp.Handler()
}

// result renders a boolean outcome as the "result" label value on
// Outcomes.
func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

// Observe records one terminal coordinator reply: always bumps
// Outcomes, and QuorumFailures or Timeouts when applicable.
func Observe(method string, ok, timeout bool) {
	Outcomes.WithLabelValues(method, result(ok)).Inc()
	if timeout {
		Timeouts.WithLabelValues(method).Inc()
		return
	}
	if !ok {
		QuorumFailures.WithLabelValues(method).Inc()
	}
}
