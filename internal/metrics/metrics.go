// Package metrics exposes Prometheus counters and histograms for the
// orchestration pipeline, in the same promauto/custom-registry shape as
// SAGE-X-project-sage's internal/metrics package.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cxoneflow"

// Registry is a dedicated registry rather than the global default, so
// tests can spin up isolated instances without colliding on metric names.
var Registry = prometheus.NewRegistry()

var (
	ScansDispatched = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "dispatched_total",
			Help:      "Total number of scans dispatched to a CxOne (or delegated resolver) target.",
		},
		[]string{"workflow", "resolver_tag"},
	)

	DelegatedScanTimeouts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "timeouts_total",
			Help:      "Total number of delegated scans that hit the resolver timeout and dead-lettered.",
		},
		[]string{"resolver_tag"},
	)

	ResolverResubmits = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resubmits_total",
			Help:      "Total number of times a delegated scan message was resubmitted to a resolver queue.",
		},
		[]string{"resolver_tag"},
	)

	PollBackoffSeconds = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "backoff_seconds",
			Help:      "Backoff interval chosen by the scan polling state machine before the next requeue.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"scope"},
	)

	PRCommentOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "pr_comment_operations_total",
			Help:      "PR decoration comment operations, split by whether an existing comment was edited or a new one created.",
		},
		[]string{"operation"}, // "create" or "edit"
	)

	SARIFPushAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "sarif_push_attempts_total",
			Help:      "SARIF push-workflow delivery attempts, split by outcome.",
		},
		[]string{"outcome"}, // "success" or "failure"
	)

	CloneOperationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cloner",
			Name:      "operation_duration_seconds",
			Help:      "Clone/checkout operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"auth_style"},
	)
)

// Handler exposes /metrics for the dedicated Registry, mirroring
// promhttp.HandlerFor(Registry, ...) from the teacher's metrics package.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
