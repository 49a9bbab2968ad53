package distance

import (
	"encoding/json"
	"fmt"

	"github.com/scaprile/gentry/internal/a121"
)

// CloseRangeCalibration holds the direct-leakage estimate and the
// phase-jitter reference derived from it. The two always travel together;
// modelling them as one value removes the invalid "one present, one absent"
// state.
type CloseRangeCalibration struct {
	DirectLeakage            []complex128
	PhaseJitterCompReference []float64
	SessionConfigUsed        a121.SessionConfig
}

// RecordedThresholdCalibrationData holds the averaged background sweep and
// noise deviation per segment, plus the conditions they were captured under.
type RecordedThresholdCalibrationData struct {
	MeanSweeps           [][]float64
	NoiseStds            [][]float64
	SessionConfigUsed    a121.SessionConfig
	ReferenceTemperature int
}

// DetectorContext accumulates calibration results across calls. It is owned
// by the Detector, written only by the calibration operations while stopped,
// and read-only during steady-state processing.
type DetectorContext struct {
	// OffsetM is the sensor offset correction; nil before offset calibration.
	OffsetM *float64

	CloseRange        *CloseRangeCalibration
	RecordedThreshold *RecordedThresholdCalibrationData

	// BgNoiseStd holds, per segment, the noise standard deviation of each
	// data subsweep measured with the transmitter off.
	BgNoiseStd [][]float64
}

// closeRangeCalibrated reports whether the leakage calibration is present.
func (c *DetectorContext) closeRangeCalibrated() bool {
	return c != nil && c.CloseRange != nil
}

// recordedThresholdCalibrated reports whether a recorded threshold is present.
func (c *DetectorContext) recordedThresholdCalibrated() bool {
	return c != nil && c.RecordedThreshold != nil
}

// ContextSnapshot is the opaque key-value shape the persistence collaborator
// stores: scalars, fixed-size numeric arrays and nested numeric lists only.
// Complex samples are split into real and imaginary arrays.
type ContextSnapshot struct {
	OffsetM *float64 `json:"offset_m,omitempty"`

	DirectLeakageRe          []float64        `json:"direct_leakage_re,omitempty"`
	DirectLeakageIm          []float64        `json:"direct_leakage_im,omitempty"`
	PhaseJitterCompReference []float64        `json:"phase_jitter_comp_reference,omitempty"`
	CloseRangeSessionConfig  *json.RawMessage `json:"close_range_session_config_used,omitempty"`

	RecordedThresholdMeanSweeps   [][]float64      `json:"recorded_thresholds_mean_sweep,omitempty"`
	RecordedThresholdNoiseStds    [][]float64      `json:"recorded_thresholds_noise_std,omitempty"`
	RecordedThresholdSessionCfg   *json.RawMessage `json:"recorded_threshold_session_config_used,omitempty"`
	RecordedThresholdRefTemperatC *int             `json:"reference_temperature,omitempty"`

	BgNoiseStd [][]float64 `json:"bg_noise_std,omitempty"`
}

// Snapshot flattens the context for persistence.
func (c *DetectorContext) Snapshot() (*ContextSnapshot, error) {
	s := &ContextSnapshot{
		OffsetM:    c.OffsetM,
		BgNoiseStd: c.BgNoiseStd,
	}
	if c.CloseRange != nil {
		s.DirectLeakageRe = make([]float64, len(c.CloseRange.DirectLeakage))
		s.DirectLeakageIm = make([]float64, len(c.CloseRange.DirectLeakage))
		for i, v := range c.CloseRange.DirectLeakage {
			s.DirectLeakageRe[i] = real(v)
			s.DirectLeakageIm[i] = imag(v)
		}
		s.PhaseJitterCompReference = c.CloseRange.PhaseJitterCompReference
		raw, err := json.Marshal(c.CloseRange.SessionConfigUsed)
		if err != nil {
			return nil, fmt.Errorf("marshal close range session config: %w", err)
		}
		msg := json.RawMessage(raw)
		s.CloseRangeSessionConfig = &msg
	}
	if c.RecordedThreshold != nil {
		s.RecordedThresholdMeanSweeps = c.RecordedThreshold.MeanSweeps
		s.RecordedThresholdNoiseStds = c.RecordedThreshold.NoiseStds
		temp := c.RecordedThreshold.ReferenceTemperature
		s.RecordedThresholdRefTemperatC = &temp
		raw, err := json.Marshal(c.RecordedThreshold.SessionConfigUsed)
		if err != nil {
			return nil, fmt.Errorf("marshal recorded threshold session config: %w", err)
		}
		msg := json.RawMessage(raw)
		s.RecordedThresholdSessionCfg = &msg
	}
	return s, nil
}

// ContextFromSnapshot rebuilds a context, enforcing that paired calibration
// fields are present together.
func ContextFromSnapshot(s *ContextSnapshot) (*DetectorContext, error) {
	ctx := &DetectorContext{
		OffsetM:    s.OffsetM,
		BgNoiseStd: s.BgNoiseStd,
	}

	hasLeakage := s.DirectLeakageRe != nil || s.DirectLeakageIm != nil || s.PhaseJitterCompReference != nil
	if hasLeakage {
		if len(s.DirectLeakageRe) != len(s.DirectLeakageIm) {
			return nil, fmt.Errorf("direct leakage component lengths differ: %d vs %d",
				len(s.DirectLeakageRe), len(s.DirectLeakageIm))
		}
		if s.PhaseJitterCompReference == nil || s.CloseRangeSessionConfig == nil {
			return nil, fmt.Errorf("close range calibration fields must be present together")
		}
		leakage := make([]complex128, len(s.DirectLeakageRe))
		for i := range leakage {
			leakage[i] = complex(s.DirectLeakageRe[i], s.DirectLeakageIm[i])
		}
		var sessionConfig a121.SessionConfig
		if err := json.Unmarshal(*s.CloseRangeSessionConfig, &sessionConfig); err != nil {
			return nil, fmt.Errorf("unmarshal close range session config: %w", err)
		}
		ctx.CloseRange = &CloseRangeCalibration{
			DirectLeakage:            leakage,
			PhaseJitterCompReference: s.PhaseJitterCompReference,
			SessionConfigUsed:        sessionConfig,
		}
	}

	hasRecorded := s.RecordedThresholdMeanSweeps != nil || s.RecordedThresholdNoiseStds != nil
	if hasRecorded {
		if s.RecordedThresholdMeanSweeps == nil || s.RecordedThresholdNoiseStds == nil ||
			s.RecordedThresholdSessionCfg == nil || s.RecordedThresholdRefTemperatC == nil {
			return nil, fmt.Errorf("recorded threshold fields must be present together")
		}
		var sessionConfig a121.SessionConfig
		if err := json.Unmarshal(*s.RecordedThresholdSessionCfg, &sessionConfig); err != nil {
			return nil, fmt.Errorf("unmarshal recorded threshold session config: %w", err)
		}
		ctx.RecordedThreshold = &RecordedThresholdCalibrationData{
			MeanSweeps:           s.RecordedThresholdMeanSweeps,
			NoiseStds:            s.RecordedThresholdNoiseStds,
			SessionConfigUsed:    sessionConfig,
			ReferenceTemperature: *s.RecordedThresholdRefTemperatC,
		}
	}

	return ctx, nil
}
