// Package metrics exposes import counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements ingest.Observer.
type Metrics struct {
	registry   *prometheus.Registry
	imports    *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	confidence prometheus.Histogram
	limited    prometheus.Counter
}

// New registers the scribe collectors on a fresh registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Name:      "imports_total",
			Help:      "Finished imports by platform, format and outcome.",
		}, []string{"platform", "format", "outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Name:      "records_skipped_total",
			Help:      "Malformed or unusable records dropped during normalization.",
		}, []string{"platform"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scribe",
			Name:      "import_duration_seconds",
			Help:      "Wall time of an import.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"platform", "format"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scribe",
			Name:      "detection_confidence",
			Help:      "Detection confidence of auto-detected imports.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(
		m.imports, m.skipped, m.duration, m.confidence, m.limited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveImport(platform, format, outcome string, skipped int, confidence float64, elapsed time.Duration) {
	if platform == "" {
		platform = "unknown"
	}
	if format == "" {
		format = "unknown"
	}
	m.imports.WithLabelValues(platform, format, outcome).Inc()
	if skipped > 0 {
		m.skipped.WithLabelValues(platform).Add(float64(skipped))
	}
	m.duration.WithLabelValues(platform, format).Observe(elapsed.Seconds())
	if confidence > 0 {
		m.confidence.Observe(confidence)
	}
}

// RateLimited counts one rejected request.
func (m *Metrics) RateLimited() {
	m.limited.Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
