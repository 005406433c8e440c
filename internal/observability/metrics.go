// Package observability defines the engine's Prometheus metrics and the
// handler that exposes them.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace defines the global prefix for all metrics (e.g., tollgate_...).
const namespace = "tollgate"

// evalBuckets covers the expected evaluation latency range: sub-millisecond
// for cached rule scans up to hundreds of milliseconds when a content fetch
// is involved.
var evalBuckets = []float64{.001, .002, .005, .010, .025, .050, .100, .250, .500, 1}

var (
	// EvaluationsTotal counts pipeline runs by terminal outcome.
	// Metric: tollgate_pipeline_evaluations_total
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "evaluations_total",
		Help:      "Total pipeline evaluations by terminal outcome",
	}, []string{"outcome", "preemptive"})

	// EvaluationDuration measures end-to-end pipeline latency.
	// Metric: tollgate_pipeline_evaluation_seconds
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "evaluation_seconds",
		Help:      "End-to-end pipeline evaluation latency",
		Buckets:   evalBuckets,
	})

	// PaywallCacheHits counts requests served from the memoized cache.
	PaywallCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "paywall",
		Name:      "cache_hits_total",
		Help:      "Total paywall requests served from the memory cache",
	})

	// PaywallCacheMisses counts requests that needed an upstream fetch.
	PaywallCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "paywall",
		Name:      "cache_misses_total",
		Help:      "Total paywall requests that missed the memory cache",
	})

	// PaywallSharedFetches counts callers that piggybacked on another
	// caller's in-flight fetch.
	PaywallSharedFetches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "paywall",
		Name:      "shared_fetches_total",
		Help:      "Total callers deduplicated onto an in-flight fetch",
	})

	// ConfirmationsTotal counts assignment confirmation dispatches.
	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "assignment",
		Name:      "confirmations_total",
		Help:      "Total assignment confirmation dispatches by status",
	}, []string{"status"}) // confirmed, failed

	// OccurrenceWrites counts persisted occurrence records.
	OccurrenceWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "occurrence",
		Name:      "writes_total",
		Help:      "Total occurrence records persisted",
	})
)

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
