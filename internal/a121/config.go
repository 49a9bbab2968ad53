// Package a121 models the sensor service surface the distance pipeline talks
// to: subsweep/sensor/session configuration, per-frame results, and the
// narrow Client and Recorder interfaces. The wire protocol and transport
// behind a Client are out of scope here; a deterministic simulated client is
// provided for tests and tooling.
package a121

import "fmt"

// Profile is a discrete transmit/receive configuration trading range
// resolution for direct-leakage-free minimum distance.
type Profile int

const (
	Profile1 Profile = 1
	Profile2 Profile = 2
	Profile3 Profile = 3
	Profile4 Profile = 4
	Profile5 Profile = 5
)

func (p Profile) String() string {
	return fmt.Sprintf("PROFILE_%d", int(p))
}

// Valid reports whether p is one of the five defined profiles.
func (p Profile) Valid() bool {
	return Profile1 <= p && p <= Profile5
}

// PRF is the carrier pulse repetition frequency.
type PRF int

const (
	PRF19_5MHz PRF = iota
	PRF13_0MHz
	PRF8_7MHz
	PRF6_5MHz
)

// FrequencyHz returns the nominal PRF in Hz.
func (p PRF) FrequencyHz() float64 {
	switch p {
	case PRF19_5MHz:
		return 19.5e6
	case PRF13_0MHz:
		return 13.0e6
	case PRF8_7MHz:
		return 8.7e6
	case PRF6_5MHz:
		return 6.5e6
	}
	return 0
}

func (p PRF) String() string {
	switch p {
	case PRF19_5MHz:
		return "PRF_19_5_MHz"
	case PRF13_0MHz:
		return "PRF_13_0_MHz"
	case PRF8_7MHz:
		return "PRF_8_7_MHz"
	case PRF6_5MHz:
		return "PRF_6_5_MHz"
	}
	return fmt.Sprintf("PRF(%d)", int(p))
}

// SubsweepConfig describes one contiguous slice of range bins measured with
// a single profile/gain setting.
type SubsweepConfig struct {
	StartPoint       int     `json:"start_point"`
	NumPoints        int     `json:"num_points"`
	StepLength       int     `json:"step_length"`
	Profile          Profile `json:"profile"`
	HWAAS            int     `json:"hwaas"`
	ReceiverGain     int     `json:"receiver_gain"`
	EnableTX         bool    `json:"enable_tx"`
	EnableLoopback   bool    `json:"enable_loopback"`
	PhaseEnhancement bool    `json:"phase_enhancement"`
	PRF              PRF     `json:"prf"`
}

// Validate checks the subsweep parameters the service would reject.
func (c SubsweepConfig) Validate() error {
	if c.NumPoints <= 0 {
		return fmt.Errorf("subsweep num_points must be positive, got %d", c.NumPoints)
	}
	if c.StepLength <= 0 {
		return fmt.Errorf("subsweep step_length must be positive, got %d", c.StepLength)
	}
	if !c.Profile.Valid() {
		return fmt.Errorf("invalid profile %d", int(c.Profile))
	}
	if c.HWAAS < 1 || c.HWAAS > 511 {
		return fmt.Errorf("hwaas must be in [1, 511], got %d", c.HWAAS)
	}
	return nil
}

// SensorConfig is the per-sensor configuration for one group: an ordered set
// of subsweeps sampled back to back within each sweep.
type SensorConfig struct {
	Subsweeps      []SubsweepConfig `json:"subsweeps"`
	SweepsPerFrame int              `json:"sweeps_per_frame"`
}

// NumPoints returns the total number of points in one sweep.
func (c SensorConfig) NumPoints() int {
	n := 0
	for _, sub := range c.Subsweeps {
		n += sub.NumPoints
	}
	return n
}

// SubsweepOffsets returns the start offset of each subsweep within a sweep.
func (c SensorConfig) SubsweepOffsets() []int {
	offsets := make([]int, len(c.Subsweeps))
	n := 0
	for i, sub := range c.Subsweeps {
		offsets[i] = n
		n += sub.NumPoints
	}
	return offsets
}

// Validate checks every subsweep and the frame shape.
func (c SensorConfig) Validate() error {
	if len(c.Subsweeps) == 0 {
		return fmt.Errorf("sensor config has no subsweeps")
	}
	if c.SweepsPerFrame < 1 {
		return fmt.Errorf("sweeps_per_frame must be at least 1, got %d", c.SweepsPerFrame)
	}
	for i, sub := range c.Subsweeps {
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("subsweep %d: %w", i, err)
		}
	}
	return nil
}

// Equal reports whether two sensor configs are identical.
func (c SensorConfig) Equal(other SensorConfig) bool {
	if c.SweepsPerFrame != other.SweepsPerFrame || len(c.Subsweeps) != len(other.Subsweeps) {
		return false
	}
	for i := range c.Subsweeps {
		if c.Subsweeps[i] != other.Subsweeps[i] {
			return false
		}
	}
	return true
}

// SessionConfig is an ordered list of groups, each mapping sensor id to its
// configuration. Groups are measured sequentially within one extended frame.
type SessionConfig struct {
	Groups   []map[int]SensorConfig `json:"groups"`
	Extended bool                   `json:"extended"`
}

// NewSessionConfig wraps a single group for the common single-sensor case.
func NewSessionConfig(sensorID int, config SensorConfig) SessionConfig {
	return SessionConfig{Groups: []map[int]SensorConfig{{sensorID: config}}}
}

// Validate checks every group in the session.
func (c SessionConfig) Validate() error {
	if len(c.Groups) == 0 {
		return fmt.Errorf("session config has no groups")
	}
	for i, group := range c.Groups {
		if len(group) == 0 {
			return fmt.Errorf("group %d is empty", i)
		}
		for sensorID, sc := range group {
			if err := sc.Validate(); err != nil {
				return fmt.Errorf("group %d sensor %d: %w", i, sensorID, err)
			}
		}
	}
	return nil
}

// Equal reports whether two session configs describe the same measurement.
// Used to detect calibration staleness, so it must compare every field.
func (c SessionConfig) Equal(other SessionConfig) bool {
	if c.Extended != other.Extended || len(c.Groups) != len(other.Groups) {
		return false
	}
	for i, group := range c.Groups {
		otherGroup := other.Groups[i]
		if len(group) != len(otherGroup) {
			return false
		}
		for sensorID, sc := range group {
			osc, ok := otherGroup[sensorID]
			if !ok || !sc.Equal(osc) {
				return false
			}
		}
	}
	return true
}
