package distance

import (
	"math"

	"github.com/scaprile/gentry/internal/a121"
)

// Planning constants.
const (
	// minNumPointsInEnvelopeFWHM is the minimum sampling density: at least
	// this many points across the envelope FWHM.
	minNumPointsInEnvelopeFWHM = 4.0

	// numSubsweepsInSensorConfig is the subsweep budget of one far-range
	// sensor configuration.
	numSubsweepsInSensorConfig = 4

	minHWAAS          = 1
	maxHWAAS          = 511
	hwaasMinDistanceM = 1.0
)

// validStepLengths are the step lengths the sensor supports directly; above
// the largest, only multiples of it are valid.
var validStepLengths = []int{1, 2, 3, 4, 6, 8, 12, 24}

// minLeakageFreeDistM is the shortest distance free of direct leakage per
// profile.
var minLeakageFreeDistM = map[a121.Profile]float64{
	a121.Profile1: 0.12,
	a121.Profile2: 0.28,
	a121.Profile3: 0.56,
	a121.Profile4: 0.76,
	a121.Profile5: 1.28,
}

// maxMeasurableDistM is the unambiguous range per PRF.
var maxMeasurableDistM = map[a121.PRF]float64{
	a121.PRF19_5MHz: 3.1,
	a121.PRF13_0MHz: 7.0,
	a121.PRF8_7MHz:  12.7,
	a121.PRF6_5MHz:  18.5,
}

// SubsweepGroupPlan is one planned physical measurement segment. Breakpoints
// are in range-bin units, include the edge margins, and are monotonically
// increasing; HWAAS holds one gain count per sub-segment.
type SubsweepGroupPlan struct {
	StepLength  int
	Breakpoints []int
	Profile     a121.Profile
	HWAAS       []int
}

// PlanGroups synthesizes the measurement segments for a configuration: an
// optional close-range segment, up to two transition segments bridging to
// the max profile's leakage-free distance, and one max-profile segment tiled
// into equal-width sub-segments.
func PlanGroups(config DetectorConfig) (map[MeasurementType][]SubsweepGroupPlan, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	plans := make(map[MeasurementType][]SubsweepGroupPlan)

	minDistM := leakageFreeMinDist(config)
	closeRangeTransitionM := minDistM[a121.Profile1]

	if config.StartM < closeRangeTransitionM {
		plans[CloseRange] = []SubsweepGroupPlan{closeRangeGroupPlan(closeRangeTransitionM, config)}
	}

	_, hasCloseRange := plans[CloseRange]
	transitionPlans := transitionGroupPlans(config, minDistM, hasCloseRange)

	numRemainingSubsweeps := numSubsweepsInSensorConfig - len(transitionPlans)
	hasNeighbouringSubsweep := hasCloseRange || len(transitionPlans) != 0

	farPlans := append(transitionPlans,
		maxProfileGroupPlans(config, minDistM, hasNeighbouringSubsweep, numRemainingSubsweeps)...)
	if len(farPlans) != 0 {
		plans[FarRange] = farPlans
	}

	return plans, nil
}

// SessionConfigAndSpecs turns a detector config into the sensor session and
// the processor specification bound to it, 1:1 with the planned segments.
func SessionConfigAndSpecs(config DetectorConfig, sensorID int) (a121.SessionConfig, []ProcessorSpec, error) {
	plans, err := PlanGroups(config)
	if err != nil {
		return a121.SessionConfig{}, nil, err
	}

	var groups []map[int]a121.SensorConfig
	var specs []ProcessorSpec
	groupIndex := 0

	if closePlans, ok := plans[CloseRange]; ok {
		sensorConfig := closeRangeSensorConfig(closePlans[0])
		groups = append(groups, map[int]a121.SensorConfig{sensorID: sensorConfig})
		specs = append(specs, ProcessorSpec{
			Config: ProcessorConfig{
				ThresholdMethod:      ThresholdRecorded,
				MeasurementType:      CloseRange,
				ThresholdSensitivity: config.ThresholdSensitivity,
			},
			GroupIndex:      groupIndex,
			SensorID:        sensorID,
			SubsweepIndexes: []int{0, 1},
		})
		groupIndex++
	}

	if farPlans, ok := plans[FarRange]; ok {
		sensorConfig, subsweepIndexes := farRangeSensorConfig(farPlans)
		groups = append(groups, map[int]a121.SensorConfig{sensorID: sensorConfig})

		processorConfig := ProcessorConfig{
			ThresholdMethod:      config.ThresholdMethod,
			MeasurementType:      FarRange,
			FixedThresholdValue:  config.FixedThresholdValue,
			ThresholdSensitivity: config.ThresholdSensitivity,
			CFAROneSided:         config.CFAROneSided,
		}
		for _, indexes := range subsweepIndexes {
			specs = append(specs, ProcessorSpec{
				Config:          processorConfig,
				GroupIndex:      groupIndex,
				SensorID:        sensorID,
				SubsweepIndexes: indexes,
			})
		}
	}

	return a121.SessionConfig{Groups: groups, Extended: true}, specs, nil
}

// leakageFreeMinDist returns the shortest leakage-free distance per profile
// up to the configured max profile. CFAR thresholding pushes the boundary
// out by its margin since those bins never receive a threshold.
func leakageFreeMinDist(config DetectorConfig) map[a121.Profile]float64 {
	minDistM := make(map[a121.Profile]float64)
	for profile := a121.Profile1; profile <= config.MaxProfile; profile++ {
		d := minLeakageFreeDistM[profile]
		if config.ThresholdMethod == ThresholdCFAR {
			stepLength := limitStepLength(profile, config.MaxStepLength)
			d += float64(CalcCFARMargin(profile, stepLength)*stepLength) * ApproxBaseStepLengthM
		}
		minDistM[profile] = d
	}
	return minDistM
}

// closeRangeGroupPlan covers [start, transition] with profile 1, which has
// the smallest direct-leakage region.
func closeRangeGroupPlan(transitionM float64, config DetectorConfig) SubsweepGroupPlan {
	hasNeighbour := [2]bool{false, transitionM < config.EndM}
	return createGroupPlan(a121.Profile1, config,
		[]float64{config.StartM, transitionM}, hasNeighbour, true)
}

// transitionGroupPlans bridges the gap between the measurement start and the
// max profile's leakage-free distance, using profiles 1 and 3 as needed so
// no segment covers distances its profile cannot measure.
func transitionGroupPlans(config DetectorConfig, minDistM map[a121.Profile]float64, hasCloseRange bool) []SubsweepGroupPlan {
	var profiles []a121.Profile
	for _, p := range []a121.Profile{a121.Profile1, a121.Profile3} {
		if p < config.MaxProfile {
			profiles = append(profiles, p)
		}
	}
	profiles = append(profiles, config.MaxProfile)

	var plans []SubsweepGroupPlan
	for i := 0; i < len(profiles)-1; i++ {
		profile, next := profiles[i], profiles[i+1]
		if config.StartM < minDistM[next] && minDistM[profile] < config.EndM {
			startM := math.Max(minDistM[profile], config.StartM)
			endM := math.Min(config.EndM, minDistM[next])
			hasNeighbour := [2]bool{
				hasCloseRange || len(plans) != 0,
				minDistM[next] < endM,
			}
			plans = append(plans, createGroupPlan(profile, config,
				[]float64{startM, endM}, hasNeighbour, false))
		}
	}
	return plans
}

// maxProfileGroupPlans tiles the remaining interval into equidistant
// sub-segments measured with the max profile, assigning HWAAS per
// sub-segment from the link budget.
func maxProfileGroupPlans(config DetectorConfig, minDistM map[a121.Profile]float64,
	hasNeighbouringSubsweep bool, numRemainingSubsweeps int) []SubsweepGroupPlan {

	if minDistM[config.MaxProfile] >= config.EndM {
		return nil
	}
	startM := math.Max(config.StartM, minDistM[config.MaxProfile])
	breakpointsM := linspace(startM, config.EndM, numRemainingSubsweeps+1)
	return []SubsweepGroupPlan{createGroupPlan(config.MaxProfile, config,
		breakpointsM, [2]bool{hasNeighbouringSubsweep, false}, false)}
}

func createGroupPlan(profile a121.Profile, config DetectorConfig, breakpointsM []float64,
	hasNeighbour [2]bool, isCloseRange bool) SubsweepGroupPlan {

	stepLength := limitStepLength(profile, config.MaxStepLength)
	breakpoints := mToPoints(breakpointsM, stepLength)
	hwaas := calculateHWAAS(profile, breakpoints, config.SignalQuality, stepLength)
	extended := addMarginToBreakpoints(profile, stepLength, breakpoints, hasNeighbour, config, isCloseRange)

	return SubsweepGroupPlan{
		StepLength:  stepLength,
		Breakpoints: extended,
		Profile:     profile,
		HWAAS:       hwaas,
	}
}

// calculateHWAAS assigns the averaging count per sub-segment from the radar
// link budget: the required loop gain grows 40 dB per decade of distance and
// shrinks with the filter's processing gain.
func calculateHWAAS(profile a121.Profile, breakpoints []int, signalQuality float64, stepLength int) []int {
	rlgPerHWAAS := RLGPerHWAAS[profile]
	hwaas := make([]int, 0, len(breakpoints)-1)
	for idx := 0; idx < len(breakpoints)-1; idx++ {
		processingGain := CalcProcessingGain(profile, stepLength)
		endM := math.Max(ApproxBaseStepLengthM*float64(breakpoints[idx+1]), hwaasMinDistanceM)
		rlg := signalQuality + 40*math.Log10(endM) - math.Log10(processingGain)
		h := int(math.Pow(10, (rlg-rlgPerHWAAS)/10))
		if h < minHWAAS {
			h = minHWAAS
		}
		if h > maxHWAAS {
			h = maxHWAAS
		}
		hwaas = append(hwaas, h)
	}
	return hwaas
}

// addMarginToBreakpoints widens the segment's outer breakpoints: one
// distance-filter margin on every edge, doubled against a neighbouring
// segment so cores stay contiguous after trimming, plus the CFAR margin on
// far-range CFAR segments.
func addMarginToBreakpoints(profile a121.Profile, stepLength int, base []int,
	hasNeighbour [2]bool, config DetectorConfig, isCloseRange bool) []int {

	marginP := DistanceFilterEdgeMargin(profile, stepLength) * stepLength
	left, right := marginP, marginP
	if hasNeighbour[0] {
		left += marginP
	}
	if hasNeighbour[1] {
		right += marginP
	}
	if config.ThresholdMethod == ThresholdCFAR && !isCloseRange {
		cfarMargin := CalcCFARMargin(profile, stepLength) * stepLength
		left += cfarMargin
		right += cfarMargin
	}

	out := make([]int, len(base))
	copy(out, base)
	out[0] -= left
	out[len(out)-1] += right
	return out
}

// limitStepLength picks the largest supported step length that still yields
// at least minNumPointsInEnvelopeFWHM points across the envelope FWHM,
// further limited by the user's max. Values of 24 and above round down to a
// multiple of 24.
func limitStepLength(profile a121.Profile, userLimit int) int {
	fwhmP := envelopeFWHMPoints(profile, 1)
	limit := int(fwhmP / minNumPointsInEnvelopeFWHM)
	if userLimit > 0 && userLimit < limit {
		limit = userLimit
	}

	maxValid := validStepLengths[len(validStepLengths)-1]
	if limit < maxValid {
		chosen := validStepLengths[0]
		for _, s := range validStepLengths {
			if s <= limit {
				chosen = s
			}
		}
		return chosen
	}
	return (limit / maxValid) * maxValid
}

// selectPRF returns the highest PRF whose unambiguous range covers the
// farthest breakpoint. The highest PRF is only supported by the two
// narrowest profiles.
func selectPRF(breakpoint int, profile a121.Profile) a121.PRF {
	breakpointM := float64(breakpoint) * ApproxBaseStepLengthM
	best := a121.PRF6_5MHz
	bestFreq := 0.0
	for prf, maxDistM := range maxMeasurableDistM {
		if prf == a121.PRF19_5MHz && profile != a121.Profile1 && profile != a121.Profile2 {
			continue
		}
		if breakpointM < maxDistM && prf.FrequencyHz() > bestFreq {
			best = prf
			bestFreq = prf.FrequencyHz()
		}
	}
	return best
}

// mToPoints converts breakpoints in meters to range-bin units floored to
// multiples of the step length, so sub-segment point counts stay integral.
func mToPoints(breakpointsM []float64, stepLength int) []int {
	startPoint := float64(int(breakpointsM[0] / ApproxBaseStepLengthM))
	out := make([]int, len(breakpointsM))
	for i, m := range breakpointsM {
		p := (m-breakpointsM[0])/ApproxBaseStepLengthM + startPoint
		out[i] = int(math.Floor(p/float64(stepLength))) * stepLength
	}
	return out
}

// closeRangeSensorConfig maps the close-range plan to a sensor config: a
// single loopback point providing the per-sweep phase reference, followed by
// the actual measurement subsweep. Multiple sweeps per frame average down
// the residual after leakage subtraction.
func closeRangeSensorConfig(plan SubsweepGroupPlan) a121.SensorConfig {
	numPoints := (plan.Breakpoints[1] - plan.Breakpoints[0]) / plan.StepLength
	return a121.SensorConfig{
		SweepsPerFrame: 10,
		Subsweeps: []a121.SubsweepConfig{
			{
				StartPoint:       0,
				NumPoints:        1,
				StepLength:       1,
				Profile:          a121.Profile4,
				HWAAS:            plan.HWAAS[0],
				ReceiverGain:     15,
				EnableTX:         true,
				EnableLoopback:   true,
				PhaseEnhancement: true,
			},
			{
				StartPoint:       plan.Breakpoints[0],
				NumPoints:        numPoints,
				StepLength:       plan.StepLength,
				Profile:          plan.Profile,
				HWAAS:            plan.HWAAS[0],
				ReceiverGain:     5,
				EnableTX:         true,
				PhaseEnhancement: true,
				PRF:              selectPRF(plan.Breakpoints[1], plan.Profile),
			},
		},
	}
}

// farRangeSensorConfig flattens the far-range plans into one sensor config
// and returns, per plan, the indexes of its subsweeps.
func farRangeSensorConfig(plans []SubsweepGroupPlan) (a121.SensorConfig, [][]int) {
	var subsweeps []a121.SubsweepConfig
	var specIndexes [][]int
	subsweepIdx := 0

	for _, plan := range plans {
		var indexes []int
		for bp := 0; bp < len(plan.Breakpoints)-1; bp++ {
			numPoints := (plan.Breakpoints[bp+1] - plan.Breakpoints[bp]) / plan.StepLength
			subsweeps = append(subsweeps, a121.SubsweepConfig{
				StartPoint:       plan.Breakpoints[bp],
				NumPoints:        numPoints,
				StepLength:       plan.StepLength,
				Profile:          plan.Profile,
				HWAAS:            plan.HWAAS[bp],
				ReceiverGain:     10,
				EnableTX:         true,
				PhaseEnhancement: true,
				PRF:              selectPRF(plan.Breakpoints[bp+1], plan.Profile),
			})
			indexes = append(indexes, subsweepIdx)
			subsweepIdx++
		}
		specIndexes = append(specIndexes, indexes)
	}
	return a121.SensorConfig{Subsweeps: subsweeps, SweepsPerFrame: 1}, specIndexes
}

func linspace(start, end float64, n int) []float64 {
	if n < 2 {
		return []float64{start, end}
	}
	out := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}

// PlanCoreBounds returns the planned core (margin-free) interval of a plan's
// breakpoints in meters, for diagnostics and tests.
func PlanCoreBounds(plan SubsweepGroupPlan, config DetectorConfig, isCloseRange bool, hasNeighbour [2]bool) (float64, float64) {
	marginP := DistanceFilterEdgeMargin(plan.Profile, plan.StepLength) * plan.StepLength
	left, right := marginP, marginP
	if hasNeighbour[0] {
		left += marginP
	}
	if hasNeighbour[1] {
		right += marginP
	}
	if config.ThresholdMethod == ThresholdCFAR && !isCloseRange {
		cfar := CalcCFARMargin(plan.Profile, plan.StepLength) * plan.StepLength
		left += cfar
		right += cfar
	}
	first := plan.Breakpoints[0] + left
	last := plan.Breakpoints[len(plan.Breakpoints)-1] - right
	return float64(first) * ApproxBaseStepLengthM, float64(last) * ApproxBaseStepLengthM
}
