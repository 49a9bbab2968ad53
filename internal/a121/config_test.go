package a121

import (
	"strings"
	"testing"
)

func validSubsweep() SubsweepConfig {
	return SubsweepConfig{
		StartPoint: 100,
		NumPoints:  50,
		StepLength: 2,
		Profile:    Profile3,
		HWAAS:      8,
		EnableTX:   true,
	}
}

func TestSubsweepConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SubsweepConfig)
		wantErr string
	}{
		{"valid", func(*SubsweepConfig) {}, ""},
		{"zero points", func(c *SubsweepConfig) { c.NumPoints = 0 }, "num_points"},
		{"zero step", func(c *SubsweepConfig) { c.StepLength = 0 }, "step_length"},
		{"bad profile", func(c *SubsweepConfig) { c.Profile = 0 }, "profile"},
		{"hwaas low", func(c *SubsweepConfig) { c.HWAAS = 0 }, "hwaas"},
		{"hwaas high", func(c *SubsweepConfig) { c.HWAAS = 512 }, "hwaas"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validSubsweep()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSensorConfigNumPointsAndOffsets(t *testing.T) {
	cfg := SensorConfig{
		SweepsPerFrame: 2,
		Subsweeps: []SubsweepConfig{
			{StartPoint: 0, NumPoints: 10, StepLength: 1, Profile: Profile1, HWAAS: 1, EnableTX: true},
			{StartPoint: 10, NumPoints: 30, StepLength: 1, Profile: Profile1, HWAAS: 1, EnableTX: true},
			{StartPoint: 40, NumPoints: 5, StepLength: 1, Profile: Profile1, HWAAS: 1, EnableTX: true},
		},
	}
	if got := cfg.NumPoints(); got != 45 {
		t.Errorf("NumPoints() = %d, want 45", got)
	}
	offsets := cfg.SubsweepOffsets()
	want := []int{0, 10, 40}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("SubsweepOffsets()[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}
}

func TestSessionConfigEqual(t *testing.T) {
	base := NewSessionConfig(1, SensorConfig{
		SweepsPerFrame: 1,
		Subsweeps:      []SubsweepConfig{validSubsweep()},
	})

	same := NewSessionConfig(1, SensorConfig{
		SweepsPerFrame: 1,
		Subsweeps:      []SubsweepConfig{validSubsweep()},
	})
	if !base.Equal(same) {
		t.Error("identical configs compare unequal")
	}

	// Any subsweep field change must break equality, it drives calibration
	// staleness detection.
	changed := NewSessionConfig(1, SensorConfig{
		SweepsPerFrame: 1,
		Subsweeps:      []SubsweepConfig{validSubsweep()},
	})
	changed.Groups[0][1].Subsweeps[0].HWAAS++
	if base.Equal(changed) {
		t.Error("configs with different HWAAS compare equal")
	}

	otherSensor := NewSessionConfig(2, SensorConfig{
		SweepsPerFrame: 1,
		Subsweeps:      []SubsweepConfig{validSubsweep()},
	})
	if base.Equal(otherSensor) {
		t.Error("configs with different sensor ids compare equal")
	}
}

func TestSessionConfigValidate(t *testing.T) {
	if err := (SessionConfig{}).Validate(); err == nil {
		t.Error("empty session config validated")
	}
	bad := NewSessionConfig(1, SensorConfig{SweepsPerFrame: 0,
		Subsweeps: []SubsweepConfig{validSubsweep()}})
	if err := bad.Validate(); err == nil {
		t.Error("zero sweeps_per_frame validated")
	}
}
