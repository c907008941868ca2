// Package metrics exposes Prometheus collectors for every component the
// composition root wires, following dittofs/pkg/metrics/prometheus's use of
// promauto against a dedicated registry rather than the global default one.
// Unlike dittofs (which splits collectors across pkg/metrics and
// pkg/metrics/prometheus to dodge an import cycle between optional build
// variants), Nexus has one metrics consumer, so the collectors live in a
// single package registered directly against the registry callers wire in.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the composition root's subsystems record
// against. A nil *Metrics is safe to call the Record methods on; each is a
// no-op, so callers don't need to branch on whether metrics are enabled.
// Handler is the exception: it requires a non-nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	AuthzChecks       *prometheus.CounterVec
	AuthzCheckLatency *prometheus.HistogramVec
	TupleWrites       *prometheus.CounterVec
	PermCacheResults  *prometheus.CounterVec
	DiskCacheResults  *prometheus.CounterVec
	UploadSessions    *prometheus.CounterVec
	UploadBytes       prometheus.Counter
	SyncPipelineRuns  *prometheus.CounterVec
	EventLogAppends   *prometheus.CounterVec
}

// New registers every collector against a fresh registry and returns the
// grouped Metrics value.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	return &Metrics{
		registry: reg,

		AuthzChecks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_authz_checks_total",
			Help: "Total compute_permission checks by outcome.",
		}, []string{"allowed"}),

		AuthzCheckLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_authz_check_duration_seconds",
			Help:    "Latency of compute_permission graph traversal.",
			Buckets: prometheus.DefBuckets,
		}, []string{"allowed"}),

		TupleWrites: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_tuple_writes_total",
			Help: "Total tuple store writes by outcome.",
		}, []string{"outcome"}),

		PermCacheResults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_permcache_results_total",
			Help: "Permission cache lookups by hit/miss.",
		}, []string{"result"}),

		DiskCacheResults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_diskcache_results_total",
			Help: "Disk cache lookups by hit/miss.",
		}, []string{"result"}),

		UploadSessions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_upload_sessions_total",
			Help: "Resumable upload sessions by terminal state.",
		}, []string{"state"}),

		UploadBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nexus_upload_bytes_total",
			Help: "Total bytes received across all upload chunks.",
		}),

		SyncPipelineRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_syncpipe_runs_total",
			Help: "Sync pipeline runs by outcome.",
		}, []string{"outcome"}),

		EventLogAppends: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_eventlog_appends_total",
			Help: "Event log appends by mode (segment/relational).",
		}, []string{"mode"}),
	}
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAuthzCheck records one compute_permission call's outcome and
// duration.
func (m *Metrics) RecordAuthzCheck(allowed bool, seconds float64) {
	if m == nil {
		return
	}
	label := "false"
	if allowed {
		label = "true"
	}
	m.AuthzChecks.WithLabelValues(label).Inc()
	m.AuthzCheckLatency.WithLabelValues(label).Observe(seconds)
}

// RecordTupleWrite records one tuple store write's outcome.
func (m *Metrics) RecordTupleWrite(outcome string) {
	if m == nil {
		return
	}
	m.TupleWrites.WithLabelValues(outcome).Inc()
}

// RecordPermCacheResult records a permission cache hit or miss.
func (m *Metrics) RecordPermCacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermCacheResults.WithLabelValues(result).Inc()
}

// RecordDiskCacheResult records a disk cache hit or miss.
func (m *Metrics) RecordDiskCacheResult(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.DiskCacheResults.WithLabelValues(result).Inc()
}

// RecordUploadSession records an upload session reaching a terminal state
// ("completed", "terminated", "expired") and the bytes it received.
func (m *Metrics) RecordUploadSession(state string, bytes int64) {
	if m == nil {
		return
	}
	m.UploadSessions.WithLabelValues(state).Inc()
	if bytes > 0 {
		m.UploadBytes.Add(float64(bytes))
	}
}

// RecordSyncPipelineRun records one sync pipeline run's outcome.
func (m *Metrics) RecordSyncPipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.SyncPipelineRuns.WithLabelValues(outcome).Inc()
}

// RecordEventLogAppend records one event log append in the given mode.
func (m *Metrics) RecordEventLogAppend(mode string) {
	if m == nil {
		return
	}
	m.EventLogAppends.WithLabelValues(mode).Inc()
}
