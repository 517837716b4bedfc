// Package metrics exposes the Prometheus scrape endpoint named as a
// bordering interface in spec §1. Metric shapes are grounded on
// original_source/backend/metrics/__init__.py (the pre-distillation
// Python implementation's prometheus_client instrumentation),
// reimplemented with github.com/prometheus/client_golang, sourced from
// the jordigilh-kubernaut example's dependency set — the teacher
// carries no metrics library of its own.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter/gauge/histogram the orchestrator
// exports, mirroring the original Python module's metric set.
type Registry struct {
	DownloadsTotal       *prometheus.CounterVec
	DownloadsStarted     *prometheus.CounterVec
	DownloadsInProgress  prometheus.Gauge
	DownloadSpeedBytes   *prometheus.GaugeVec
	BytesDownloadedTotal *prometheus.CounterVec
	BytesPending         prometheus.Gauge
	DownloadSizeBytes    prometheus.Histogram
	DownloadDuration     prometheus.Histogram
	DownloadErrorsTotal  *prometheus.CounterVec
	DownloadRetriesTotal *prometheus.CounterVec
	QueueSize            prometheus.Gauge
	DBDownloadsCount     prometheus.Gauge

	registerer prometheus.Registerer
}

// New builds and registers a Registry against a fresh prometheus
// registry (not the global default, so tests can build independent
// instances without collector-already-registered panics).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		registerer: reg,
		DownloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Total downloads by terminal status and kind.",
		}, []string{"status", "kind"}),
		DownloadsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "downloads_started_total",
			Help: "Total downloads started by kind.",
		}, []string{"kind"}),
		DownloadsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "downloads_in_progress",
			Help: "Number of downloads currently in the downloading state.",
		}),
		DownloadSpeedBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "download_speed_bytes_per_second",
			Help: "Current per-job download speed.",
		}, []string{"external_id"}),
		BytesDownloadedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bytes_downloaded_total",
			Help: "Cumulative bytes downloaded by kind.",
		}, []string{"kind"}),
		BytesPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bytes_pending",
			Help: "Sum of (total_bytes - downloaded_bytes) across active jobs.",
		}),
		DownloadSizeBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "download_size_bytes",
			Help:    "Distribution of completed download sizes.",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10),
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "download_duration_seconds",
			Help:    "Distribution of job duration from creation to terminal status.",
			Buckets: prometheus.DefBuckets,
		}),
		DownloadErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "download_errors_total",
			Help: "Total failed downloads by kind.",
		}, []string{"kind"}),
		DownloadRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "download_retries_total",
			Help: "Total retry attempts by kind.",
		}, []string{"kind"}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "queue_size",
			Help: "Number of URL jobs waiting for a concurrency slot.",
		}),
		DBDownloadsCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_downloads_count",
			Help: "Total non-deleted job rows in the store.",
		}),
	}
	return r
}

// Handler returns the HTTP handler for GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registerer.(prometheus.Gatherer), promhttp.HandlerOpts{})
}

// RecordStarted increments the started counter and in-progress gauge.
func (r *Registry) RecordStarted(kind string) {
	r.DownloadsStarted.WithLabelValues(kind).Inc()
	r.DownloadsInProgress.Inc()
}

// RecordTerminal records a job reaching a terminal status.
func (r *Registry) RecordTerminal(status, kind string, sizeBytes int64, duration float64) {
	r.DownloadsTotal.WithLabelValues(status, kind).Inc()
	r.DownloadsInProgress.Dec()
	if sizeBytes > 0 {
		r.DownloadSizeBytes.Observe(float64(sizeBytes))
	}
	r.DownloadDuration.Observe(duration)
	if status == "failed" {
		r.DownloadErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// RecordRetry increments the retry counter for kind.
func (r *Registry) RecordRetry(kind string) {
	r.DownloadRetriesTotal.WithLabelValues(kind).Inc()
}
