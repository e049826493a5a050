// Package metrics holds the Prometheus collectors shared by the scheduling
// core. Collectors live in a private registry so tests and embedders never
// collide with the global default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "postplanner"

var (
	Registry = prometheus.NewRegistry()

	// JobsScheduled counts registrations by job name (remind, publish).
	JobsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled_total",
			Help:      "Total number of jobs registered with the scheduler.",
		},
		[]string{"job"},
	)

	// JobRuns counts finished executions; result is ok, error or panic.
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job executions by result.",
		},
		[]string{"job", "result"},
	)

	JobsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Total number of pending jobs cancelled before firing.",
		},
	)

	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Total number of operations rejected by the rate limiter.",
		},
	)

	// InitiatorDecisions counts claim outcomes (granted, already_holder, rejected, error).
	InitiatorDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "initiator_decisions_total",
			Help:      "Total number of initiator claim decisions by outcome.",
		},
		[]string{"outcome"},
	)

	// PostOperations counts service calls by operation and result.
	PostOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_operations_total",
			Help:      "Total number of post operations by result.",
		},
		[]string{"op", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		JobsScheduled,
		JobRuns,
		JobsCancelled,
		RateLimitRejections,
		InitiatorDecisions,
		PostOperations,
	)
}

// Handler serves the private registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Result maps an error to the result label used by the counters.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
