package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Source metrics
	ActiveSources      prometheus.Gauge
	SourcesCreated     *prometheus.CounterVec
	SourcesReleased    prometheus.Counter
	SourcesFailed      prometheus.Counter
	TimelinesPublished prometheus.Counter
	UpdatesDropped     prometheus.Counter

	// Clip metrics
	ClipOperations  *prometheus.CounterVec
	ClippedDuration prometheus.Histogram

	// Snapshot metrics
	SnapshotsWritten prometheus.Counter
	SnapshotsPruned  prometheus.Counter
	SnapshotErrors   prometheus.Counter
	SnapshotSize     prometheus.Histogram
	SnapshotsStored  prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Source metrics
		ActiveSources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidclip_active_sources",
			Help: "Number of currently registered sources",
		}),
		SourcesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidclip_sources_created_total",
				Help: "Total number of sources created",
			},
			[]string{"kind"}, // kind: plain or clipping
		),
		SourcesReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidclip_sources_released_total",
			Help: "Total number of sources released",
		}),
		SourcesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidclip_sources_failed_total",
			Help: "Total number of sources that failed permanently",
		}),
		TimelinesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidclip_timelines_published_total",
			Help: "Total number of timelines published by sources",
		}),
		UpdatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidclip_updates_dropped_total",
			Help: "Total number of timeline updates dropped by full subscribers",
		}),

		// Clip metrics
		ClipOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidclip_clip_operations_total",
				Help: "Total number of clip operations by outcome",
			},
			[]string{"outcome"},
		),
		ClippedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidclip_clipped_duration_seconds",
			Help:    "Duration of successfully clipped windows",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1s to ~4.5h
		}),

		// Snapshot metrics
		SnapshotsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidclip_snapshots_written_total",
			Help: "Total number of timeline snapshots written",
		}),
		SnapshotsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidclip_snapshots_pruned_total",
			Help: "Total number of timeline snapshots pruned by retention",
		}),
		SnapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidclip_snapshot_errors_total",
			Help: "Total number of failed snapshot writes",
		}),
		SnapshotSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidclip_snapshot_size_bytes",
			Help:    "Size of timeline snapshots in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10), // 64B to ~32KB
		}),
		SnapshotsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidclip_snapshots_stored",
			Help: "Number of snapshots currently stored",
		}),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidclip_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapidclip_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	return m
}

// RecordSourceCreated records a source being registered
func (m *Metrics) RecordSourceCreated(clipping bool) {
	if m == nil {
		return
	}
	kind := "plain"
	if clipping {
		kind = "clipping"
	}
	m.ActiveSources.Inc()
	m.SourcesCreated.WithLabelValues(kind).Inc()
}

// RecordSourceReleased records a source being released
func (m *Metrics) RecordSourceReleased() {
	if m == nil {
		return
	}
	m.ActiveSources.Dec()
	m.SourcesReleased.Inc()
}

// RecordSourceFailed records a source failing permanently
func (m *Metrics) RecordSourceFailed() {
	if m == nil {
		return
	}
	m.SourcesFailed.Inc()
}

// RecordTimelinePublished records a timeline published by a source
func (m *Metrics) RecordTimelinePublished() {
	if m == nil {
		return
	}
	m.TimelinesPublished.Inc()
}

// RecordUpdateDropped records an update dropped by a full subscriber
func (m *Metrics) RecordUpdateDropped() {
	if m == nil {
		return
	}
	m.UpdatesDropped.Inc()
}

// RecordClip records a clip operation. durationUs is observed only for
// successful clips with a known duration (non-negative).
func (m *Metrics) RecordClip(outcome string, durationUs int64) {
	if m == nil {
		return
	}
	m.ClipOperations.WithLabelValues(outcome).Inc()
	if outcome == "ok" && durationUs >= 0 {
		m.ClippedDuration.Observe(float64(durationUs) / 1e6)
	}
}

// RecordSnapshot records a snapshot written
func (m *Metrics) RecordSnapshot(sizeBytes int64) {
	if m == nil {
		return
	}
	m.SnapshotsWritten.Inc()
	m.SnapshotSize.Observe(float64(sizeBytes))
	m.SnapshotsStored.Inc()
}

// RecordSnapshotPruned records a snapshot deleted by retention
func (m *Metrics) RecordSnapshotPruned() {
	if m == nil {
		return
	}
	m.SnapshotsPruned.Inc()
	m.SnapshotsStored.Dec()
}

// RecordSnapshotError records a failed snapshot write
func (m *Metrics) RecordSnapshotError() {
	if m == nil {
		return
	}
	m.SnapshotErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, m.statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// statusCodeToString converts an HTTP status code to a string
func (m *Metrics) statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
