// Package metrics exposes moss's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moss_transactions_total",
			Help: "Total number of transactions by outcome",
		},
		[]string{"outcome"},
	)

	BlitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moss_blit_duration_seconds",
			Help:    "Time taken to blit a staging tree in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PromoteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moss_promote_duration_seconds",
			Help:    "Time taken to renameat2-swap the staging tree in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moss_resolve_duration_seconds",
			Help:    "Time taken to resolve a selection set into a closure in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResolveConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moss_resolve_conflicts_total",
			Help: "Total number of dependency conflicts detected",
		},
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moss_db_write_duration_seconds",
			Help:    "Time taken for a database batch write in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"db"},
	)

	CacheDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moss_cache_downloads_total",
			Help: "Total number of downloads by outcome",
		},
		[]string{"outcome"},
	)

	CacheUnpackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moss_cache_unpack_duration_seconds",
			Help:    "Time taken to unpack a stone's content payload in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PruneAssetsRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moss_prune_assets_removed_total",
			Help: "Total number of asset files removed by prune",
		},
	)

	PruneStatesRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moss_prune_states_removed_total",
			Help: "Total number of states removed by prune",
		},
	)

	VerifyCorruptAssetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moss_verify_corrupt_assets_total",
			Help: "Total number of corrupt assets detected by verify",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TransactionsTotal,
		BlitDuration,
		PromoteDuration,
		ResolveDuration,
		ResolveConflictsTotal,
		DBWriteDuration,
		CacheDownloadsTotal,
		CacheUnpackDuration,
		PruneAssetsRemovedTotal,
		PruneStatesRemovedTotal,
		VerifyCorruptAssetsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
