package distance

import (
	"fmt"

	"github.com/scaprile/gentry/internal/a121"
)

// Measurement interval limits of the sensor.
const (
	MinDistM = 0.0
	MaxDistM = 17.0
)

// DetectorConfig is the user-facing configuration. It is a plain immutable
// value: construct via DefaultDetectorConfig, adjust fields, and validation
// happens once per planning call.
type DetectorConfig struct {
	// StartM and EndM bound the measurement interval in meters.
	StartM float64
	EndM   float64

	// MaxStepLength limits the step length; 0 selects it from the profile.
	MaxStepLength int

	// MaxProfile is the longest allowed profile. Longer profiles raise SNR
	// but push out the leakage-free minimum distance.
	MaxProfile a121.Profile

	// SignalQuality trades SNR against power consumption via HWAAS.
	SignalQuality float64

	ThresholdMethod ThresholdMethod
	PeakSorting     PeakSortingMethod

	// NumFramesInRecordedThreshold is the averaging count when recording a
	// background threshold.
	NumFramesInRecordedThreshold int

	FixedThresholdValue  float64
	ThresholdSensitivity float64
	CFAROneSided         bool
}

// DefaultDetectorConfig returns the defaults used by the reference tooling.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		StartM:                       0.25,
		EndM:                         3.0,
		MaxProfile:                   a121.Profile5,
		SignalQuality:                15.0,
		ThresholdMethod:              ThresholdCFAR,
		PeakSorting:                  SortHighestRCS,
		NumFramesInRecordedThreshold: 100,
		FixedThresholdValue:          DefaultFixedThresholdValue,
		ThresholdSensitivity:         DefaultThresholdSensitivity,
		CFAROneSided:                 DefaultCFAROneSided,
	}
}

// Validate checks the configuration before any planning or hardware access.
func (c DetectorConfig) Validate() error {
	if err := c.validateRange(); err != nil {
		return err
	}
	if !c.MaxProfile.Valid() {
		return fmt.Errorf("invalid max profile %d", int(c.MaxProfile))
	}
	if c.MaxStepLength < 0 {
		return fmt.Errorf("max step length must not be negative, got %d", c.MaxStepLength)
	}
	// A single frame has no across-frame deviation to record.
	if c.NumFramesInRecordedThreshold < 2 {
		return fmt.Errorf("recorded threshold frame count must be at least 2, got %d",
			c.NumFramesInRecordedThreshold)
	}
	if c.ThresholdSensitivity <= 0 || c.ThresholdSensitivity > 1 {
		return fmt.Errorf("threshold sensitivity must be in (0, 1], got %v", c.ThresholdSensitivity)
	}
	return nil
}

func (c DetectorConfig) validateRange() error {
	if c.StartM >= c.EndM {
		return fmt.Errorf("start (%v m) must be less than end (%v m)", c.StartM, c.EndM)
	}
	if c.StartM <= MinDistM || c.EndM >= MaxDistM {
		return fmt.Errorf("measurement range [%v, %v] m outside (%v, %v) m",
			c.StartM, c.EndM, MinDistM, MaxDistM)
	}
	return nil
}

// validRange reports whether the interval alone is acceptable; the detector
// status uses this to distinguish range problems from calibration state.
func (c DetectorConfig) validRange() bool {
	return c.validateRange() == nil
}
