// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal           *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	proxyRetriesTotal    prometheus.Counter
	jobsTotal            *prometheus.CounterVec
	itemsStoredTotal     prometheus.Counter
	duplicateItemsTotal  prometheus.Counter
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kibblewatch_fetch_total",
				Help: "Total outbound fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kibblewatch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		)

		proxyRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "kibblewatch_proxy_retries_total",
				Help: "Total same-URL retries caused by proxy-layer failures.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kibblewatch_jobs_total",
				Help: "Total jobs processed, labeled by handler kind.",
			},
			[]string{"kind"},
		)

		itemsStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "kibblewatch_items_stored_total",
				Help: "Total catalog items inserted.",
			},
		)

		duplicateItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "kibblewatch_duplicate_items_total",
				Help: "Total items skipped or rejected as already cataloged.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kibblewatch_active_workers",
				Help: "Number of workers currently executing a job.",
			},
		)
	})
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt's outcome and latency.
func ObserveFetch(outcome string, d time.Duration) {
	if fetchTotal == nil {
		return
	}
	fetchTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncProxyRetry counts a same-URL retry with a fresh identity.
func IncProxyRetry() {
	if proxyRetriesTotal == nil {
		return
	}
	proxyRetriesTotal.Inc()
}

// IncJob counts a processed job by handler kind.
func IncJob(kind string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(kind).Inc()
}

// IncItemStored counts a successful catalog insert.
func IncItemStored() {
	if itemsStoredTotal == nil {
		return
	}
	itemsStoredTotal.Inc()
}

// IncDuplicateItem counts a dedup hit or a duplicate insert rejection.
func IncDuplicateItem() {
	if duplicateItemsTotal == nil {
		return
	}
	duplicateItemsTotal.Inc()
}

// WorkerStarted and WorkerFinished track the active-worker gauge.
func WorkerStarted() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// WorkerFinished decrements the active-worker gauge.
func WorkerFinished() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}
