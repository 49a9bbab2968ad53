package distance

import (
	"fmt"
	"math"
	"sort"

	"github.com/scaprile/gentry/internal/a121"
)

// PeakSortingMethod selects the ordering of the merged distance estimates.
type PeakSortingMethod int

const (
	// SortClosest orders ascending by distance.
	SortClosest PeakSortingMethod = iota
	// SortStrongest orders descending by amplitude.
	SortStrongest
	// SortHighestRCS orders descending by the radar-cross-section estimate
	// from the radar equation, favoring large reflectors over near clutter.
	SortHighestRCS
)

// minPeakDistM is the merge distance: peaks closer than this are one target,
// so an echo straddling two segments is reported once.
const minPeakDistM = 0.005

func (m PeakSortingMethod) String() string {
	switch m {
	case SortClosest:
		return "closest"
	case SortStrongest:
		return "strongest"
	case SortHighestRCS:
		return "highest_rcs"
	}
	return fmt.Sprintf("PeakSortingMethod(%d)", int(m))
}

// RLGPerHWAAS is the radar loop gain contributed by one hardware-accelerated
// average, per profile, in dB.
var RLGPerHWAAS = map[a121.Profile]float64{
	a121.Profile1: 11.3,
	a121.Profile2: 13.7,
	a121.Profile3: 19.0,
	a121.Profile4: 20.5,
	a121.Profile5: 21.6,
}

// CalcProcessingGain approximates the processing gain of the matched distance
// filter: the energy of a triangular pulse spanning twice the envelope FWHM.
func CalcProcessingGain(profile a121.Profile, stepLength int) float64 {
	envelopeBaseLengthM := EnvelopeFWHMM[profile] * 2
	numPoints := int(envelopeBaseLengthM/(float64(stepLength)*ApproxBaseStepLengthM)) + 2
	mid := numPoints / 2

	var gain float64
	for i := 0; i < mid; i++ {
		v := 0.0
		if mid > 1 {
			v = float64(i) / float64(mid-1)
		}
		gain += v * v
	}
	for i := 0; i < numPoints-mid; i++ {
		v := 1.0
		if numPoints-mid > 1 {
			v = 1 - float64(i)/float64(numPoints-mid-1)
		}
		gain += v * v
	}
	return gain
}

// AggregatorConfig selects the merge policy.
type AggregatorConfig struct {
	PeakSorting PeakSortingMethod
}

// AggregatorContext carries run-time calibration shared by all segments.
type AggregatorContext struct {
	OffsetM float64
}

// AggregatorResult is the merged per-tick output across all segments.
type AggregatorResult struct {
	EstimatedDistances    []float64
	EstimatedAmplitudes   []float64
	ProcessorResults      []*ProcessorResult
	ServiceExtendedResult a121.ExtendedResult

	// TimestampUS is a monotonic microsecond timestamp derived from the
	// unwrapped sensor tick.
	TimestampUS uint64
}

// Aggregator runs each segment's processor on its slice of the extended
// frame and merges the peaks into one deterministically ordered list. The
// per-segment processing has no shared state and completion order never
// affects the output ordering.
type Aggregator struct {
	config     AggregatorConfig
	context    AggregatorContext
	specs      []ProcessorSpec
	processors []*Processor

	// maxUnwrappedTick is the rolling maximum used for wrap correction;
	// nil before the first frame.
	maxUnwrappedTick *uint64
}

// NewAggregator builds one processor per spec.
func NewAggregator(sessionConfig a121.SessionConfig, metadata a121.ExtendedMetadata,
	config AggregatorConfig, context AggregatorContext, specs []ProcessorSpec) (*Aggregator, error) {

	if len(metadata) != len(sessionConfig.Groups) {
		return nil, fmt.Errorf("metadata has %d groups, session has %d", len(metadata), len(sessionConfig.Groups))
	}
	a := &Aggregator{
		config:  config,
		context: context,
		specs:   specs,
	}
	for i, spec := range specs {
		p, err := NewProcessor(sessionConfig, spec)
		if err != nil {
			return nil, fmt.Errorf("processor %d: %w", i, err)
		}
		a.processors = append(a.processors, p)
	}
	return a, nil
}

// Process handles one extended frame.
func (a *Aggregator) Process(extended a121.ExtendedResult) (*AggregatorResult, error) {
	var distances, amplitudes, rcs []float64
	results := make([]*ProcessorResult, 0, len(a.processors))

	for i, p := range a.processors {
		spec := a.specs[i]
		if spec.GroupIndex >= len(extended) {
			return nil, fmt.Errorf("frame missing group %d", spec.GroupIndex)
		}
		result, ok := extended[spec.GroupIndex][spec.SensorID]
		if !ok {
			return nil, fmt.Errorf("frame missing sensor %d in group %d", spec.SensorID, spec.GroupIndex)
		}
		pr, err := p.Process(result)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		results = append(results, pr)
		distances = append(distances, pr.EstimatedDistances...)
		amplitudes = append(amplitudes, pr.EstimatedAmplitudes...)
		rcs = append(rcs, rcsOfPeaks(p, pr.EstimatedDistances, pr.EstimatedAmplitudes)...)
	}

	distances, amplitudes, rcs = mergePeaks(minPeakDistM, distances, amplitudes, rcs)
	sortPeaks(distances, amplitudes, rcs, a.config.PeakSorting)
	for i := range distances {
		distances[i] -= a.context.OffsetM
	}

	timestampUS, err := a.unwrapFrameTicks(extended)
	if err != nil {
		return nil, err
	}

	return &AggregatorResult{
		EstimatedDistances:    distances,
		EstimatedAmplitudes:   amplitudes,
		ProcessorResults:      results,
		ServiceExtendedResult: extended,
		TimestampUS:           timestampUS,
	}, nil
}

// unwrapFrameTicks lifts the frame's raw 32-bit ticks onto the monotonic
// scale and returns the frame timestamp in microseconds.
func (a *Aggregator) unwrapFrameTicks(extended a121.ExtendedResult) (uint64, error) {
	var ticks []uint64
	for _, group := range extended {
		for _, result := range group {
			ticks = append(ticks, uint64(result.Tick))
		}
	}
	if len(ticks) == 0 {
		return 0, fmt.Errorf("frame carries no tick values")
	}

	_, newMax, err := UnwrapTicks(ticks, a.maxUnwrappedTick, a121.TickLimit)
	if err != nil {
		return 0, fmt.Errorf("unwrap ticks: %w", err)
	}
	a.maxUnwrappedTick = &newMax

	return newMax * 1_000_000 / a121.TicksPerSecond, nil
}

// rcsOfPeaks scores each peak with the radar equation:
// RCS_dB = SNR_dB - RLG_dB + 40*log10(d) - processing gain_dB, where the
// radar loop gain is RLGPerHWAAS[profile] + 10*log10(HWAAS) of the subsweep
// containing the peak.
func rcsOfPeaks(p *Processor, distances, amplitudes []float64) []float64 {
	rcs := make([]float64, len(distances))
	procGainDB := 10 * math.Log10(CalcProcessingGain(p.profile, p.stepLength))
	for i, d := range distances {
		j := p.subsweepForDistance(d)
		sub := p.sensorConfig.Subsweeps[p.dataSubsweeps[j]]
		noise := 1.0
		if j < len(p.spec.Context.BgNoiseStd) && p.spec.Context.BgNoiseStd[j] > 0 {
			noise = p.spec.Context.BgNoiseStd[j]
		}
		snrDB := 20*math.Log10(amplitudes[i]) - 20*math.Log10(noise)
		rlgDB := RLGPerHWAAS[p.profile] + 10*math.Log10(float64(sub.HWAAS))
		rcs[i] = snrDB - rlgDB + 40*math.Log10(d) - procGainDB
	}
	return rcs
}

// subsweepForDistance maps an estimated distance to the data subsweep whose
// start point lies closest below it.
func (p *Processor) subsweepForDistance(d float64) int {
	sel := 0
	for j, idx := range p.dataSubsweeps {
		startM := float64(p.sensorConfig.Subsweeps[idx].StartPoint) * ApproxBaseStepLengthM
		if startM < d {
			sel = j
		}
	}
	return sel
}

// mergePeaks averages clusters of peaks whose neighbour-to-neighbour distance
// stays within minDist, returning the reduced lists sorted by distance.
func mergePeaks(minDist float64, distances, amplitudes, rcs []float64) ([]float64, []float64, []float64) {
	n := len(distances)
	if n == 0 {
		return distances, amplitudes, rcs
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return distances[idx[i]] < distances[idx[j]] })

	var outD, outA, outR []float64
	flush := func(members []int) {
		var sd, sa, sr float64
		for _, m := range members {
			sd += distances[m]
			sa += amplitudes[m]
			sr += rcs[m]
		}
		k := float64(len(members))
		outD = append(outD, sd/k)
		outA = append(outA, sa/k)
		outR = append(outR, sr/k)
	}

	cluster := []int{idx[0]}
	for _, i := range idx[1:] {
		if distances[i]-distances[cluster[len(cluster)-1]] > minDist {
			flush(cluster)
			cluster = []int{i}
			continue
		}
		cluster = append(cluster, i)
	}
	flush(cluster)
	return outD, outA, outR
}

// sortPeaks orders the merged peaks in place. Ties break toward the nearer
// distance so the result is deterministic.
func sortPeaks(distances, amplitudes, rcs []float64, method PeakSortingMethod) {
	idx := make([]int, len(distances))
	for i := range idx {
		idx[i] = i
	}
	less := func(i, j int) bool { return distances[idx[i]] < distances[idx[j]] }
	switch method {
	case SortStrongest:
		less = func(i, j int) bool {
			ai, aj := amplitudes[idx[i]], amplitudes[idx[j]]
			if ai != aj {
				return ai > aj
			}
			return distances[idx[i]] < distances[idx[j]]
		}
	case SortHighestRCS:
		less = func(i, j int) bool {
			ri, rj := rcs[idx[i]], rcs[idx[j]]
			if ri != rj {
				return ri > rj
			}
			return distances[idx[i]] < distances[idx[j]]
		}
	}
	sort.SliceStable(idx, less)

	sortedD := make([]float64, len(distances))
	sortedA := make([]float64, len(amplitudes))
	sortedR := make([]float64, len(rcs))
	for i, j := range idx {
		sortedD[i] = distances[j]
		sortedA[i] = amplitudes[j]
		sortedR[i] = rcs[j]
	}
	copy(distances, sortedD)
	copy(amplitudes, sortedA)
	copy(rcs, sortedR)
}
