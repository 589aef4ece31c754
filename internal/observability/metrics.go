package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	captureTotal    *prometheus.CounterVec
	captureDuration prometheus.Histogram
	lockWaitTime    prometheus.Histogram

	searchTotal    prometheus.Counter
	searchDuration prometheus.Histogram
	cacheTotal     *prometheus.CounterVec

	syncRunTotal   *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	indexedEntries prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			captureTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engram_capture_total",
					Help: "Total capture operations by namespace and status.",
				},
				[]string{"namespace", "status"},
			),
			captureDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "engram_capture_duration_seconds",
					Help:    "Capture duration in seconds, lock wait included.",
					Buckets: prometheus.DefBuckets,
				},
			),
			lockWaitTime: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "engram_lock_wait_seconds",
					Help:    "Time spent waiting on the capture lock.",
					Buckets: prometheus.DefBuckets,
				},
			),
			searchTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "engram_search_total",
					Help: "Total recall searches.",
				},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "engram_search_duration_seconds",
					Help:    "Recall search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			cacheTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engram_search_cache_total",
					Help: "Search result cache lookups by outcome.",
				},
				[]string{"outcome"},
			),
			syncRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engram_sync_runs_total",
					Help: "Total sync runs by kind and status.",
				},
				[]string{"kind", "status"},
			),
			syncDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "engram_sync_duration_seconds",
					Help:    "Sync run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			indexedEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "engram_indexed_entries",
					Help: "Memories currently present in the index.",
				},
			),
		}

		prometheus.MustRegister(
			m.captureTotal,
			m.captureDuration,
			m.lockWaitTime,
			m.searchTotal,
			m.searchDuration,
			m.cacheTotal,
			m.syncRunTotal,
			m.syncDuration,
			m.indexedEntries,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordCapture(namespace, status string, duration time.Duration) {
	m := getMetrics()
	m.captureTotal.WithLabelValues(namespace, status).Inc()
	m.captureDuration.Observe(duration.Seconds())
}

func RecordLockWait(duration time.Duration) {
	getMetrics().lockWaitTime.Observe(duration.Seconds())
}

func RecordSearch(duration time.Duration) {
	m := getMetrics()
	m.searchTotal.Inc()
	m.searchDuration.Observe(duration.Seconds())
}

func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	getMetrics().cacheTotal.WithLabelValues(outcome).Inc()
}

func RecordSyncRun(kind string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.syncRunTotal.WithLabelValues(kind, status).Inc()
	m.syncDuration.Observe(duration.Seconds())
}

func SetIndexedEntries(total int) {
	getMetrics().indexedEntries.Set(float64(total))
}
