// Package observability provides Prometheus metrics for the surveillance
// pipeline and an optional HTTP endpoint exposing them.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the pipeline.
type Metrics struct {
	FramesReceived    *prometheus.CounterVec
	FramesProcessed   *prometheus.CounterVec
	FramesSkipped     *prometheus.CounterVec
	Detections        *prometheus.CounterVec
	AlertCandidates   *prometheus.CounterVec
	AlertsCreated     *prometheus.CounterVec
	AlertsResolved    prometheus.Counter
	NotificationsSent *prometheus.CounterVec
	RecordingBytes    *prometheus.CounterVec
	CleanupDeletions  prometheus.Counter
	CleanupFreedBytes prometheus.Counter
	ResolveDuration   prometheus.Histogram
	DetectDuration    prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates and registers all pipeline metrics on a fresh registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_frames_received_total",
		Help: "Total number of frames received per camera",
	}, []string{"camera"})

	m.FramesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_frames_processed_total",
		Help: "Total number of frames run through detection per camera",
	}, []string{"camera"})

	m.FramesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_frames_skipped_total",
		Help: "Total number of frames skipped by rate gating per camera",
	}, []string{"camera"})

	m.Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_detections_total",
		Help: "Total number of risk-relevant detections by class",
	}, []string{"class"})

	m.AlertCandidates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_alert_candidates_total",
		Help: "Total number of alert candidates produced by rule evaluation",
	}, []string{"type"})

	m.AlertsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_alerts_created_total",
		Help: "Total number of alerts persisted by type and severity",
	}, []string{"type", "severity"})

	m.AlertsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_alerts_resolved_total",
		Help: "Total number of alerts resolved",
	})

	m.NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_notifications_total",
		Help: "Total number of notification dispatch attempts by channel and status",
	}, []string{"channel", "status"})

	m.RecordingBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_recording_bytes_total",
		Help: "Total bytes written to recording segments per camera",
	}, []string{"camera"})

	m.CleanupDeletions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_cleanup_deletions_total",
		Help: "Total number of recording files deleted by the storage sweep",
	})

	m.CleanupFreedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_cleanup_freed_bytes_total",
		Help: "Total bytes freed by the storage sweep",
	})

	m.ResolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_resolve_duration_seconds",
		Help:    "Duration of stream resolution attempts",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	m.DetectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_detect_duration_seconds",
		Help:    "Duration of per-frame detection",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	collectors := []prometheus.Collector{
		m.FramesReceived, m.FramesProcessed, m.FramesSkipped,
		m.Detections, m.AlertCandidates, m.AlertsCreated, m.AlertsResolved,
		m.NotificationsSent, m.RecordingBytes,
		m.CleanupDeletions, m.CleanupFreedBytes,
		m.ResolveDuration, m.DetectDuration,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

// Serve starts an HTTP listener exposing /metrics. Blocks until the server
// fails, intended to run in its own goroutine.
func (m *Metrics) Serve(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
