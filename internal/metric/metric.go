// Package metric holds the prometheus instrumentation for the diagnosis
// pipeline. Metrics are registered once at startup; all helper methods are
// safe on a nil receiver so instrumented code never needs nil checks.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Worker state gauge values.
const (
	WorkerStateUninitialized = 0
	WorkerStateSpawning      = 1
	WorkerStateReady         = 2
	WorkerStateDegraded      = 3
)

// VisionMetrics contains the instrumentation for the inference pipeline.
type VisionMetrics struct {
	InferenceRequests      *prometheus.CounterVec
	InferenceFailures      *prometheus.CounterVec
	InferenceDuration      *prometheus.HistogramVec
	WorkerRestarts         prometheus.Counter
	WorkerState            prometheus.Gauge
	ProtocolNoise          prometheus.Counter
	CalibrationAdjustments *prometheus.CounterVec
	CacheHits              prometheus.Counter
}

// NewVisionMetrics creates the pipeline metrics.
func NewVisionMetrics() *VisionMetrics {
	return &VisionMetrics{
		InferenceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrosense",
				Subsystem: "inference",
				Name:      "requests_total",
				Help:      "Total inference requests by execution path",
			},
			[]string{"path"},
		),

		InferenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrosense",
				Subsystem: "inference",
				Name:      "failures_total",
				Help:      "Total inference failures by reason",
			},
			[]string{"reason"},
		),

		InferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agrosense",
				Subsystem: "inference",
				Name:      "duration_seconds",
				Help:      "Inference duration in seconds by execution path",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),

		WorkerRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agrosense",
				Subsystem: "worker",
				Name:      "restarts_total",
				Help:      "Total worker process exits observed",
			},
		),

		WorkerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agrosense",
				Subsystem: "worker",
				Name:      "state",
				Help:      "Worker state (0=uninitialized, 1=spawning, 2=ready, 3=degraded)",
			},
		),

		ProtocolNoise: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agrosense",
				Subsystem: "protocol",
				Name:      "noise_lines_total",
				Help:      "Total unparseable lines dropped from the worker stream",
			},
		),

		CalibrationAdjustments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agrosense",
				Subsystem: "calibration",
				Name:      "adjustments_total",
				Help:      "Total calibration overrides by kind",
			},
			[]string{"kind"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agrosense",
				Subsystem: "diagnosis",
				Name:      "cache_hits_total",
				Help:      "Total diagnosis cache hits",
			},
		),
	}
}

// Register registers all metrics with the given registerer.
func (m *VisionMetrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.InferenceRequests,
		m.InferenceFailures,
		m.InferenceDuration,
		m.WorkerRestarts,
		m.WorkerState,
		m.ProtocolNoise,
		m.CalibrationAdjustments,
		m.CacheHits,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRequest records one inference request on the given path.
func (m *VisionMetrics) ObserveRequest(path string, d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceRequests.WithLabelValues(path).Inc()
	m.InferenceDuration.WithLabelValues(path).Observe(d.Seconds())
}

// ObserveFailure records one inference failure with a reason label.
func (m *VisionMetrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.InferenceFailures.WithLabelValues(reason).Inc()
}

// ObserveRestart records one worker exit.
func (m *VisionMetrics) ObserveRestart() {
	if m == nil {
		return
	}
	m.WorkerRestarts.Inc()
}

// SetWorkerState records the current worker state.
func (m *VisionMetrics) SetWorkerState(state float64) {
	if m == nil {
		return
	}
	m.WorkerState.Set(state)
}

// ObserveNoise records one dropped protocol line.
func (m *VisionMetrics) ObserveNoise() {
	if m == nil {
		return
	}
	m.ProtocolNoise.Inc()
}

// ObserveAdjustment records one calibration override.
func (m *VisionMetrics) ObserveAdjustment(kind string) {
	if m == nil {
		return
	}
	m.CalibrationAdjustments.WithLabelValues(kind).Inc()
}

// ObserveCacheHit records one diagnosis cache hit.
func (m *VisionMetrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}
