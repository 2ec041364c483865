// Package metrics declares the Prometheus collectors of the record engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shelf"

// Label values.
const (
	Hit      = "hit"
	Miss     = "miss"
	Error    = "error"
	Match    = "match"
	Mismatch = "mismatch"
)

var (
	queryCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_cache_total",
		Help:      "Query cache lookups by result.",
	}, []string{"result"})

	cacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_invalidations_total",
		Help:      "Record space cache scopes invalidated by writes.",
	})

	compileErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compile_errors_total",
		Help:      "Rejected queries and commands by kind.",
	}, []string{"kind"})

	hashedVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hashed_verifications_total",
		Help:      "Hashed field comparisons by result.",
	}, []string{"result"})

	dumpSyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dump_sync_failures_total",
		Help:      "Record dump writes that failed after the canonical write succeeded.",
	})

	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Structure reconciliations by outcome.",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// QueryCache counts one cache lookup.
func QueryCache(result string) { queryCacheTotal.WithLabelValues(result).Inc() }

// CacheInvalidated counts one scope invalidation.
func CacheInvalidated() { cacheInvalidationsTotal.Inc() }

// CompileError counts one rejected query or command.
func CompileError(kind string) { compileErrorsTotal.WithLabelValues(kind).Inc() }

// HashedVerification counts one hashed comparison.
func HashedVerification(result string) { hashedVerificationsTotal.WithLabelValues(result).Inc() }

// DumpSyncFailed counts one inconsistent dump.
func DumpSyncFailed() { dumpSyncFailuresTotal.Inc() }

// Reconciled counts one reconciliation.
func Reconciled(outcome string) { reconciliationsTotal.WithLabelValues(outcome).Inc() }

// ObserveRequest records the latency of one HTTP request.
func ObserveRequest(method, route, status string, d time.Duration) {
	requestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
