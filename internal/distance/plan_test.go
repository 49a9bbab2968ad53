package distance

import (
	"math"
	"testing"

	"github.com/scaprile/gentry/internal/a121"
)

func isValidStepLength(step int) bool {
	for _, s := range validStepLengths {
		if step == s {
			return true
		}
	}
	return step > 24 && step%24 == 0
}

func TestPlanGroupsDefaultConfig(t *testing.T) {
	config := DefaultDetectorConfig()
	plans, err := PlanGroups(config)
	if err != nil {
		t.Fatalf("PlanGroups: %v", err)
	}

	if _, ok := plans[CloseRange]; ok {
		t.Error("close range planned although the start is beyond the profile 1 leakage region")
	}

	farPlans := plans[FarRange]
	if len(farPlans) == 0 {
		t.Fatal("no far range plans")
	}

	// Transition plans bridge with increasing profiles up to the max.
	lastProfile := a121.Profile(0)
	totalSubsweeps := 0
	for i, plan := range farPlans {
		if plan.Profile < lastProfile {
			t.Errorf("plan %d profile %v below previous %v", i, plan.Profile, lastProfile)
		}
		lastProfile = plan.Profile

		if !isValidStepLength(plan.StepLength) {
			t.Errorf("plan %d step length %d not supported by the sensor", i, plan.StepLength)
		}
		if pts := envelopeFWHMPoints(plan.Profile, plan.StepLength); pts < minNumPointsInEnvelopeFWHM {
			t.Errorf("plan %d has %.1f points per envelope FWHM, want at least %v", i, pts, minNumPointsInEnvelopeFWHM)
		}

		for j := 0; j < len(plan.Breakpoints)-1; j++ {
			if plan.Breakpoints[j+1] <= plan.Breakpoints[j] {
				t.Errorf("plan %d breakpoints not increasing: %v", i, plan.Breakpoints)
			}
		}
		for j, h := range plan.HWAAS {
			if h < minHWAAS || h > maxHWAAS {
				t.Errorf("plan %d sub-segment %d HWAAS %d outside [1, 511]", i, j, h)
			}
		}
		if len(plan.HWAAS) != len(plan.Breakpoints)-1 {
			t.Errorf("plan %d has %d HWAAS for %d sub-segments", i, len(plan.HWAAS), len(plan.Breakpoints)-1)
		}
		totalSubsweeps += len(plan.Breakpoints) - 1
	}
	if totalSubsweeps > numSubsweepsInSensorConfig {
		t.Errorf("far plans use %d subsweeps, sensor config budget is %d",
			totalSubsweeps, numSubsweepsInSensorConfig)
	}
	if farPlans[len(farPlans)-1].Profile != a121.Profile5 {
		t.Errorf("last plan profile = %v, want the configured max", farPlans[len(farPlans)-1].Profile)
	}
}

func TestPlanGroupsCloseRange(t *testing.T) {
	config := DefaultDetectorConfig()
	config.StartM = 0.05

	plans, err := PlanGroups(config)
	if err != nil {
		t.Fatalf("PlanGroups: %v", err)
	}
	closePlans, ok := plans[CloseRange]
	if !ok {
		t.Fatal("no close range plan for a 5 cm start")
	}
	if len(closePlans) != 1 {
		t.Fatalf("got %d close range plans, want 1", len(closePlans))
	}
	if closePlans[0].Profile != a121.Profile1 {
		t.Errorf("close range profile = %v, want profile 1", closePlans[0].Profile)
	}
}

func TestPlanGroupsRejectsInvalidConfig(t *testing.T) {
	config := DefaultDetectorConfig()
	config.StartM, config.EndM = 2.0, 1.0
	if _, err := PlanGroups(config); err == nil {
		t.Error("inverted range accepted")
	}
}

func TestSessionConfigAndSpecsDefault(t *testing.T) {
	config := DefaultDetectorConfig()
	session, specs, err := SessionConfigAndSpecs(config, 1)
	if err != nil {
		t.Fatalf("SessionConfigAndSpecs: %v", err)
	}
	if err := session.Validate(); err != nil {
		t.Fatalf("planned session invalid: %v", err)
	}
	if len(session.Groups) != 1 {
		t.Fatalf("got %d groups, want 1 (far range only)", len(session.Groups))
	}

	sensorConfig := session.Groups[0][1]
	if sensorConfig.SweepsPerFrame != 1 {
		t.Errorf("far range sweeps_per_frame = %d, want 1", sensorConfig.SweepsPerFrame)
	}
	if len(sensorConfig.Subsweeps) > numSubsweepsInSensorConfig {
		t.Errorf("%d subsweeps exceed the budget of %d", len(sensorConfig.Subsweeps), numSubsweepsInSensorConfig)
	}

	// Every spec must survive processor construction: contiguity, shared
	// profile and step length within a segment.
	for i, spec := range specs {
		if spec.Config.MeasurementType != FarRange {
			t.Errorf("spec %d measurement type = %v, want far range", i, spec.Config.MeasurementType)
		}
		if spec.Config.ThresholdMethod != config.ThresholdMethod {
			t.Errorf("spec %d threshold = %v, want %v", i, spec.Config.ThresholdMethod, config.ThresholdMethod)
		}
		if _, err := NewProcessor(session, spec); err != nil {
			t.Errorf("spec %d rejected by processor: %v", i, err)
		}
	}
}

func TestSessionConfigAndSpecsCloseRange(t *testing.T) {
	config := DefaultDetectorConfig()
	config.StartM = 0.05

	session, specs, err := SessionConfigAndSpecs(config, 1)
	if err != nil {
		t.Fatalf("SessionConfigAndSpecs: %v", err)
	}
	if len(session.Groups) != 2 {
		t.Fatalf("got %d groups, want close range + far range", len(session.Groups))
	}

	closeConfig := session.Groups[0][1]
	if closeConfig.SweepsPerFrame != 10 {
		t.Errorf("close range sweeps_per_frame = %d, want 10", closeConfig.SweepsPerFrame)
	}
	if len(closeConfig.Subsweeps) != 2 {
		t.Fatalf("close range has %d subsweeps, want loopback + measurement", len(closeConfig.Subsweeps))
	}
	lb := closeConfig.Subsweeps[0]
	if !lb.EnableLoopback || lb.NumPoints != 1 || lb.Profile != a121.Profile4 || lb.ReceiverGain != 15 {
		t.Errorf("loopback subsweep misconfigured: %+v", lb)
	}
	if closeConfig.Subsweeps[1].ReceiverGain != 5 {
		t.Errorf("close range measurement gain = %d, want 5", closeConfig.Subsweeps[1].ReceiverGain)
	}

	closeSpec := specs[0]
	if closeSpec.Config.MeasurementType != CloseRange {
		t.Error("first spec is not close range")
	}
	if closeSpec.Config.ThresholdMethod != ThresholdRecorded {
		t.Errorf("close range threshold = %v, recorded is mandatory", closeSpec.Config.ThresholdMethod)
	}
	if len(closeSpec.SubsweepIndexes) != 2 {
		t.Errorf("close range spec indexes = %v, want loopback and measurement", closeSpec.SubsweepIndexes)
	}

	for i, spec := range specs {
		if _, err := NewProcessor(session, spec); err != nil {
			t.Errorf("spec %d rejected by processor: %v", i, err)
		}
	}
}

func TestLimitStepLength(t *testing.T) {
	tests := []struct {
		profile   a121.Profile
		userLimit int
		want      int
	}{
		{a121.Profile1, 0, 4},  // 16 points FWHM / 4 = 4
		{a121.Profile3, 0, 12}, // 56 / 4 = 14, largest valid <= 14
		{a121.Profile5, 0, 24}, // 128 / 4 = 32, floored to a multiple of 24
		{a121.Profile3, 2, 2},  // user limit wins
	}
	for _, tt := range tests {
		if got := limitStepLength(tt.profile, tt.userLimit); got != tt.want {
			t.Errorf("limitStepLength(%v, %d) = %d, want %d", tt.profile, tt.userLimit, got, tt.want)
		}
	}
}

func TestSelectPRF(t *testing.T) {
	tests := []struct {
		breakpoint int
		profile    a121.Profile
		want       a121.PRF
	}{
		{800, a121.Profile1, a121.PRF19_5MHz},  // 2.0 m, narrow profile
		{800, a121.Profile3, a121.PRF13_0MHz},  // highest PRF not allowed
		{4000, a121.Profile5, a121.PRF8_7MHz},  // 10 m
		{6000, a121.Profile5, a121.PRF6_5MHz},  // 15 m
		{1400, a121.Profile1, a121.PRF13_0MHz}, // 3.5 m beyond the 19.5 MHz range
	}
	for _, tt := range tests {
		if got := selectPRF(tt.breakpoint, tt.profile); got != tt.want {
			t.Errorf("selectPRF(%d, %v) = %v, want %v", tt.breakpoint, tt.profile, got, tt.want)
		}
	}
}

func TestMToPoints(t *testing.T) {
	got := mToPoints([]float64{0.25, 0.5}, 4)
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("mToPoints = %v, want [100 200]", got)
	}
	// Every breakpoint lands on a multiple of the step length.
	got = mToPoints([]float64{0.26, 0.77, 1.3}, 12)
	for i, p := range got {
		if p%12 != 0 {
			t.Errorf("breakpoint %d = %d not a multiple of 12", i, p)
		}
	}
}

func TestDetectorConfigValidate(t *testing.T) {
	config := DefaultDetectorConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := config
	bad.StartM = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero start accepted")
	}

	bad = config
	bad.EndM = MaxDistM
	if err := bad.Validate(); err == nil {
		t.Error("end at the sensor limit accepted")
	}

	bad = config
	bad.ThresholdSensitivity = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("sensitivity above 1 accepted")
	}

	bad = config
	bad.NumFramesInRecordedThreshold = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero recorded threshold frames accepted")
	}

	// One frame cannot yield an across-frame deviation.
	bad = config
	bad.NumFramesInRecordedThreshold = 1
	if err := bad.Validate(); err == nil {
		t.Error("single recorded threshold frame accepted")
	}
}

func TestPlanCoreBoundsTileRange(t *testing.T) {
	// The margin-free cores of the far plans must tile the configured range:
	// breakpoint flooring may shift each boundary by up to one step, and the
	// doubled edge margins keep the measured regions overlapping across it.
	for _, method := range []ThresholdMethod{ThresholdFixed, ThresholdCFAR} {
		t.Run(method.String(), func(t *testing.T) {
			config := DefaultDetectorConfig()
			config.ThresholdMethod = method
			plans, err := PlanGroups(config)
			if err != nil {
				t.Fatalf("PlanGroups: %v", err)
			}
			farPlans := plans[FarRange]
			if len(farPlans) < 2 {
				t.Fatalf("got %d far plans, want a multi-segment plan for [0.25, 3] m", len(farPlans))
			}

			var prevEnd, prevStepM float64
			for i, plan := range farPlans {
				start, end := PlanCoreBounds(plan, config, false, [2]bool{i > 0, false})
				if start >= end {
					t.Fatalf("plan %d core [%v, %v] m is empty", i, start, end)
				}
				stepM := float64(plan.StepLength) * ApproxBaseStepLengthM
				if i == 0 {
					if math.Abs(start-config.StartM) > stepM {
						t.Errorf("first core starts at %v m, want within one step of %v m", start, config.StartM)
					}
				} else if math.Abs(start-prevEnd) > math.Max(stepM, prevStepM)+1e-9 {
					t.Errorf("plan %d core starts at %v m, plan %d ends at %v m, want within one step",
						i, start, i-1, prevEnd)
				}
				prevEnd, prevStepM = end, stepM
			}

			lastStepM := float64(farPlans[len(farPlans)-1].StepLength) * ApproxBaseStepLengthM
			if math.Abs(prevEnd-config.EndM) > lastStepM {
				t.Errorf("last core ends at %v m, want within one step of %v m", prevEnd, config.EndM)
			}
		})
	}
}
