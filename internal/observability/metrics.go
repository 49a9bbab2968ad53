// Package observability exposes pipeline activity as Prometheus metrics. It
// adapts the detector's observer callbacks onto a registry; the core packages
// stay free of metrics dependencies.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DetectorMetrics implements the detector observer interface on top of a
// Prometheus registry.
type DetectorMetrics struct {
	framesTotal       prometheus.Counter
	distancesTotal    prometheus.Counter
	processingSeconds prometheus.Histogram
	calibrationsTotal *prometheus.CounterVec
}

// NewDetectorMetrics registers the detector metrics with reg. A nil registerer
// uses the default registry.
func NewDetectorMetrics(reg prometheus.Registerer) *DetectorMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &DetectorMetrics{
		framesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "distance",
			Name:      "frames_processed_total",
			Help:      "Frames fetched and processed by the detector.",
		}),
		distancesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "distance",
			Name:      "estimates_total",
			Help:      "Distance estimates produced across all frames.",
		}),
		processingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "distance",
			Name:      "frame_processing_seconds",
			Help:      "Wall time from frame fetch to merged estimates.",
			Buckets:   prometheus.ExponentialBuckets(100e-6, 4, 10),
		}),
		calibrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distance",
			Name:      "calibrations_total",
			Help:      "Calibration operations performed, by kind.",
		}, []string{"kind"}),
	}
}

// FrameProcessed records one processed frame.
func (m *DetectorMetrics) FrameProcessed(numDistances int, elapsed time.Duration) {
	m.framesTotal.Inc()
	m.distancesTotal.Add(float64(numDistances))
	m.processingSeconds.Observe(elapsed.Seconds())
}

// CalibrationPerformed records one calibration operation.
func (m *DetectorMetrics) CalibrationPerformed(kind string) {
	m.calibrationsTotal.WithLabelValues(kind).Inc()
}

// Handler serves the registry over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
