package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scaprile/gentry/internal/distance"
)

// The metrics type must satisfy the detector's observer contract.
var _ distance.Observer = (*DetectorMetrics)(nil)

func TestFrameProcessed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDetectorMetrics(reg)

	m.FrameProcessed(2, 3*time.Millisecond)
	m.FrameProcessed(0, time.Millisecond)

	if got := testutil.ToFloat64(m.framesTotal); got != 2 {
		t.Errorf("frames_processed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.distancesTotal); got != 2 {
		t.Errorf("estimates_total = %v, want 2", got)
	}
}

func TestCalibrationPerformed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDetectorMetrics(reg)

	m.CalibrationPerformed("noise")
	m.CalibrationPerformed("noise")
	m.CalibrationPerformed("offset")

	if got := testutil.ToFloat64(m.calibrationsTotal.WithLabelValues("noise")); got != 2 {
		t.Errorf("calibrations_total{kind=noise} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.calibrationsTotal.WithLabelValues("offset")); got != 1 {
		t.Errorf("calibrations_total{kind=offset} = %v, want 1", got)
	}
}
