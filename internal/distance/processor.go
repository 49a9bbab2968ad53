package distance

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/scaprile/gentry/internal/a121"
)

// ProcessorMode selects what a processor produces from a frame.
type ProcessorMode int

const (
	// DistanceEstimation is the steady-state mode producing distances.
	DistanceEstimation ProcessorMode = iota
	// LeakageCalibration measures the direct leakage and phase reference.
	LeakageCalibration
	// RecordedThresholdCalibration accumulates a background threshold.
	RecordedThresholdCalibration
)

// ThresholdMethod selects how the detection threshold is formed.
type ThresholdMethod int

const (
	ThresholdCFAR ThresholdMethod = iota
	ThresholdFixed
	ThresholdRecorded
)

func (m ThresholdMethod) String() string {
	switch m {
	case ThresholdCFAR:
		return "cfar"
	case ThresholdFixed:
		return "fixed"
	case ThresholdRecorded:
		return "recorded"
	}
	return fmt.Sprintf("ThresholdMethod(%d)", int(m))
}

// MeasurementType distinguishes the leakage-compensated close range from the
// ordinary far range.
type MeasurementType int

const (
	FarRange MeasurementType = iota
	CloseRange
)

// Threshold tuning defaults.
const (
	DefaultFixedThresholdValue  = 100.0
	DefaultThresholdSensitivity = 0.5
	DefaultCFAROneSided         = false
)

const (
	cfarWindowLengthAdjustment = 0.25
	cfarGuardLengthAdjustment  = 4.0
)

// signalTemperatureModelParameter is the heating in degC that doubles the
// signal amplitude, per profile.
var signalTemperatureModelParameter = map[a121.Profile]float64{
	a121.Profile1: 67.0,
	a121.Profile2: 85.0,
	a121.Profile3: 86.0,
	a121.Profile4: 99.0,
	a121.Profile5: 104.0,
}

// Slope and intercept of the linear temperature model of the tx-off noise.
const (
	noiseTemperatureModelSlope     = -0.00275
	noiseTemperatureModelIntercept = 0.98536
)

// ProcessorConfig is the immutable per-segment processing configuration.
type ProcessorConfig struct {
	Mode                 ProcessorMode
	ThresholdMethod      ThresholdMethod
	MeasurementType      MeasurementType
	ThresholdSensitivity float64
	FixedThresholdValue  float64
	CFAROneSided         bool
}

// ProcessorContext carries the calibration results a processor reads at run
// time. Fields are nil until the corresponding calibration has run.
type ProcessorContext struct {
	RecordedThresholdMeanSweep []float64
	RecordedThresholdNoiseStd  []float64 // per data subsweep, relative to the mean sweep
	BgNoiseStd                 []float64 // per data subsweep
	DirectLeakage              []complex128
	PhaseJitterCompReference   []float64
	ReferenceTemperature       *int
}

// ProcessorSpec binds a planned segment's subsweeps within the session to a
// processing configuration.
type ProcessorSpec struct {
	Config          ProcessorConfig
	GroupIndex      int
	SensorID        int
	SubsweepIndexes []int
	Context         ProcessorContext
}

// ProcessorResult is the per-segment output of one frame.
type ProcessorResult struct {
	EstimatedDistances  []float64
	EstimatedAmplitudes []float64
	FilteredSweep       []float64
	Threshold           []float64

	// Populated in LeakageCalibration mode.
	DirectLeakage            []complex128
	PhaseJitterCompReference []float64

	// Populated in RecordedThresholdCalibration mode.
	RecordedThresholdMeanSweep []float64
	RecordedThresholdNoiseStd  []float64

	Temperature int
}

// Processor turns one segment's raw complex sweeps into filtered amplitudes,
// a threshold curve and interpolated peak estimates.
type Processor struct {
	spec         ProcessorSpec
	sensorConfig a121.SensorConfig

	// Data subsweeps are the spec's subsweeps excluding loopback ones.
	dataSubsweeps []int
	loopbackIdx   int // -1 when the segment has no loopback subsweep

	profile    a121.Profile
	stepLength int
	startPoint int
	numPoints  int

	filterB [3]float64
	filterA [3]float64

	// Recorded-threshold accumulation state (Welford).
	recCount int
	recMean  []float64
	recM2    []float64
}

// NewProcessor validates the spec against the session layout.
func NewProcessor(sessionConfig a121.SessionConfig, spec ProcessorSpec) (*Processor, error) {
	if spec.GroupIndex < 0 || spec.GroupIndex >= len(sessionConfig.Groups) {
		return nil, fmt.Errorf("spec group index %d out of range", spec.GroupIndex)
	}
	sensorConfig, ok := sessionConfig.Groups[spec.GroupIndex][spec.SensorID]
	if !ok {
		return nil, fmt.Errorf("sensor %d not in group %d", spec.SensorID, spec.GroupIndex)
	}
	if len(spec.SubsweepIndexes) == 0 {
		return nil, fmt.Errorf("spec has no subsweep indexes")
	}

	p := &Processor{
		spec:         spec,
		sensorConfig: sensorConfig,
		loopbackIdx:  -1,
	}

	for _, idx := range spec.SubsweepIndexes {
		if idx < 0 || idx >= len(sensorConfig.Subsweeps) {
			return nil, fmt.Errorf("subsweep index %d out of range", idx)
		}
		sub := sensorConfig.Subsweeps[idx]
		if sub.EnableLoopback {
			if p.loopbackIdx != -1 {
				return nil, fmt.Errorf("segment has multiple loopback subsweeps")
			}
			p.loopbackIdx = idx
			continue
		}
		p.dataSubsweeps = append(p.dataSubsweeps, idx)
	}
	if len(p.dataSubsweeps) == 0 {
		return nil, fmt.Errorf("segment has no data subsweeps")
	}

	first := sensorConfig.Subsweeps[p.dataSubsweeps[0]]
	p.profile = first.Profile
	p.stepLength = first.StepLength
	p.startPoint = first.StartPoint
	expectedStart := first.StartPoint
	for _, idx := range p.dataSubsweeps {
		sub := sensorConfig.Subsweeps[idx]
		if sub.Profile != p.profile || sub.StepLength != p.stepLength {
			return nil, fmt.Errorf("segment subsweeps must share profile and step length")
		}
		if sub.StartPoint != expectedStart {
			return nil, fmt.Errorf("segment subsweeps must be contiguous: subsweep %d starts at %d, want %d",
				idx, sub.StartPoint, expectedStart)
		}
		expectedStart += sub.NumPoints * sub.StepLength
		p.numPoints += sub.NumPoints
	}

	if spec.Config.MeasurementType == CloseRange && p.loopbackIdx == -1 {
		return nil, fmt.Errorf("close range segment requires a loopback subsweep")
	}

	p.filterB, p.filterA = distanceFilterCoeffs(p.profile, p.stepLength)
	return p, nil
}

// Process handles one frame for this segment.
func (p *Processor) Process(result a121.Result) (*ProcessorResult, error) {
	sweeps, err := p.dataSweeps(result)
	if err != nil {
		return nil, err
	}

	if p.spec.Config.Mode == LeakageCalibration {
		return p.processLeakageCalibration(result, sweeps)
	}

	var meanSweep []complex128
	if p.spec.Config.MeasurementType == CloseRange {
		meanSweep, err = p.compensatedMeanSweep(result, sweeps)
		if err != nil {
			return nil, err
		}
	} else {
		meanSweep = coherentMean(sweeps)
	}

	filtered := filtfilt(p.filterB, p.filterA, meanSweep)
	absSweep := make([]float64, len(filtered))
	for i, v := range filtered {
		absSweep[i] = cmplx.Abs(v)
	}

	switch p.spec.Config.Mode {
	case RecordedThresholdCalibration:
		return p.processThresholdRecording(result, absSweep)
	case DistanceEstimation:
		return p.processDistanceEstimation(result, absSweep)
	}
	return nil, fmt.Errorf("unknown processor mode %d", p.spec.Config.Mode)
}

// dataSweeps concatenates the data subsweeps into sweeps x numPoints.
func (p *Processor) dataSweeps(result a121.Result) ([][]complex128, error) {
	sweeps := make([][]complex128, len(result.Frame))
	for i := range sweeps {
		sweeps[i] = make([]complex128, 0, p.numPoints)
	}
	for _, idx := range p.dataSubsweeps {
		sub, err := result.Subframe(p.sensorConfig, idx)
		if err != nil {
			return nil, err
		}
		for i := range sweeps {
			sweeps[i] = append(sweeps[i], sub[i]...)
		}
	}
	return sweeps, nil
}

// loopbackPhases returns the per-sweep phase of the loopback sample, used as
// the instantaneous transmit/receive phase.
func (p *Processor) loopbackPhases(result a121.Result) ([]float64, error) {
	lb, err := result.Subframe(p.sensorConfig, p.loopbackIdx)
	if err != nil {
		return nil, err
	}
	phases := make([]float64, len(lb))
	for i, sweep := range lb {
		if len(sweep) == 0 {
			return nil, fmt.Errorf("empty loopback subsweep in sweep %d", i)
		}
		phases[i] = cmplx.Phase(sweep[0])
	}
	return phases, nil
}

func (p *Processor) processLeakageCalibration(result a121.Result, sweeps [][]complex128) (*ProcessorResult, error) {
	phases, err := p.loopbackPhases(result)
	if err != nil {
		return nil, err
	}

	// Align every sweep to a common transmit phase before averaging so the
	// leakage estimate is not washed out by phase jitter.
	directLeakage := make([]complex128, p.numPoints)
	for s, sweep := range sweeps {
		rot := cmplx.Exp(complex(0, -phases[s]))
		for k, v := range sweep {
			directLeakage[k] += v * rot
		}
	}
	n := complex(float64(len(sweeps)), 0)
	ref := make([]float64, p.numPoints)
	for k := range directLeakage {
		directLeakage[k] /= n
		ref[k] = cmplx.Phase(directLeakage[k])
	}

	return &ProcessorResult{
		DirectLeakage:            directLeakage,
		PhaseJitterCompReference: ref,
		Temperature:              result.Temperature,
	}, nil
}

// compensatedMeanSweep subtracts the calibrated direct leakage and removes
// residual phase jitter, returning the averaged sweep.
func (p *Processor) compensatedMeanSweep(result a121.Result, sweeps [][]complex128) ([]complex128, error) {
	ctx := p.spec.Context
	if ctx.DirectLeakage == nil || ctx.PhaseJitterCompReference == nil {
		return nil, fmt.Errorf("close range processing requires leakage calibration")
	}
	if len(ctx.DirectLeakage) != p.numPoints || len(ctx.PhaseJitterCompReference) != p.numPoints {
		return nil, fmt.Errorf("leakage calibration length %d does not match segment length %d",
			len(ctx.DirectLeakage), p.numPoints)
	}
	phases, err := p.loopbackPhases(result)
	if err != nil {
		return nil, err
	}

	mean := make([]float64, p.numPoints)
	delta := make([]complex128, p.numPoints)
	for s, sweep := range sweeps {
		rot := cmplx.Exp(complex(0, -phases[s]))
		for k, v := range sweep {
			delta[k] = v*rot - ctx.DirectLeakage[k]
		}
		comp := compensatePhaseJitter(delta, ctx.PhaseJitterCompReference)
		for k, v := range comp {
			mean[k] += v
		}
	}
	out := make([]complex128, p.numPoints)
	for k := range mean {
		out[k] = complex(mean[k]/float64(len(sweeps)), 0)
	}
	return out, nil
}

// compensatePhaseJitter projects each sample onto the calibrated phase
// reference, doubling the aligned component: out[k] = 2*Re(x[k]*e^{-i*ref[k]}).
func compensatePhaseJitter(sweep []complex128, refAngle []float64) []float64 {
	out := make([]float64, len(sweep))
	for k, v := range sweep {
		rotated := v * cmplx.Exp(complex(0, -refAngle[k]))
		out[k] = 2 * real(rotated)
	}
	return out
}

func (p *Processor) processThresholdRecording(result a121.Result, absSweep []float64) (*ProcessorResult, error) {
	if p.spec.Context.BgNoiseStd == nil {
		return nil, fmt.Errorf("threshold recording requires noise calibration")
	}

	if p.recMean == nil {
		p.recMean = make([]float64, len(absSweep))
		p.recM2 = make([]float64, len(absSweep))
	}
	p.recCount++
	for k, v := range absSweep {
		delta := v - p.recMean[k]
		p.recMean[k] += delta / float64(p.recCount)
		p.recM2[k] += delta * (v - p.recMean[k])
	}

	meanSweep := make([]float64, len(p.recMean))
	copy(meanSweep, p.recMean)

	return &ProcessorResult{
		FilteredSweep:              absSweep,
		RecordedThresholdMeanSweep: meanSweep,
		RecordedThresholdNoiseStd:  p.recordedNoiseStd(),
		Temperature:                result.Temperature,
	}, nil
}

// recordedNoiseStd reduces the across-frame per-point deviation to one value
// per data subsweep, relative to the mean sweep. The tx-off noise variance is
// subtracted so only the signal's own fluctuation remains; nil until two
// frames have been accumulated.
func (p *Processor) recordedNoiseStd() []float64 {
	if p.recCount < 2 {
		return nil
	}
	edge := DistanceFilterEdgeMargin(p.profile, p.stepLength)
	noiseStd := make([]float64, len(p.dataSubsweeps))
	start := 0
	for j, idx := range p.dataSubsweeps {
		end := start + p.sensorConfig.Subsweeps[idx].NumPoints
		lo, hi := start, end
		if lo < edge {
			lo = edge
		}
		if hi > len(p.recMean)-edge {
			hi = len(p.recMean) - edge
		}
		bg := 0.0
		if j < len(p.spec.Context.BgNoiseStd) {
			bg = p.spec.Context.BgNoiseStd[j]
		}
		sum, count := 0.0, 0
		for k := lo; k < hi; k++ {
			variance := p.recM2[k]/float64(p.recCount-1) - bg*bg
			if variance < 0 {
				variance = 0
			}
			if p.recMean[k] > 0 {
				sum += math.Sqrt(variance) / p.recMean[k]
				count++
			}
		}
		if count > 0 {
			noiseStd[j] = sum / float64(count)
		}
		start = end
	}
	return noiseStd
}

func (p *Processor) processDistanceEstimation(result a121.Result, absSweep []float64) (*ProcessorResult, error) {
	threshold, err := p.calculateThreshold(absSweep, result.Temperature)
	if err != nil {
		return nil, err
	}

	var distances, amplitudes []float64
	for _, idx := range findPeaks(absSweep, threshold) {
		offset, amplitude, ok := interpolatePeak(absSweep, idx)
		if !ok {
			continue
		}
		d := (float64(p.startPoint) + (float64(idx)+offset)*float64(p.stepLength)) * ApproxBaseStepLengthM
		distances = append(distances, d)
		amplitudes = append(amplitudes, amplitude)
	}

	return &ProcessorResult{
		EstimatedDistances:  distances,
		EstimatedAmplitudes: amplitudes,
		FilteredSweep:       absSweep,
		Threshold:           threshold,
		Temperature:         result.Temperature,
	}, nil
}

func (p *Processor) calculateThreshold(absSweep []float64, temperature int) ([]float64, error) {
	cfg := p.spec.Config
	n := len(absSweep)
	threshold := make([]float64, n)
	for i := range threshold {
		threshold[i] = math.NaN()
	}
	edge := DistanceFilterEdgeMargin(p.profile, p.stepLength)
	numStds := numStdsFromSensitivity(cfg.ThresholdSensitivity)

	switch cfg.ThresholdMethod {
	case ThresholdFixed:
		for i := edge; i < n-edge; i++ {
			threshold[i] = cfg.FixedThresholdValue
		}

	case ThresholdCFAR:
		window := calcCFARWindowLength(p.profile, p.stepLength)
		guard := calcCFARGuardHalfLength(p.profile, p.stepLength)
		absNoise := make([]float64, n)
		if ctx := p.spec.Context; ctx.BgNoiseStd != nil {
			for i := range absNoise {
				absNoise[i] = ctx.BgNoiseStd[p.subsweepForBin(i)]
			}
		}
		cfarThreshold(threshold, absSweep, absNoise, window, guard, numStds, cfg.CFAROneSided)
		// The filter edge transient would corrupt the window averages too.
		for i := 0; i < edge && i < n; i++ {
			threshold[i] = math.NaN()
			threshold[n-1-i] = math.NaN()
		}

	case ThresholdRecorded:
		ctx := p.spec.Context
		if ctx.RecordedThresholdMeanSweep == nil || ctx.RecordedThresholdNoiseStd == nil {
			return nil, fmt.Errorf("recorded threshold not calibrated")
		}
		if ctx.BgNoiseStd == nil {
			return nil, fmt.Errorf("recorded threshold requires noise calibration")
		}
		if len(ctx.RecordedThresholdMeanSweep) != n {
			return nil, fmt.Errorf("recorded threshold length %d does not match sweep length %d",
				len(ctx.RecordedThresholdMeanSweep), n)
		}
		// The amplitude doubles per the profile's model parameter of heating,
		// the tx-off noise level follows a linear model. The recorded deviation
		// is relative to the mean sweep, the tx-off deviation absolute; they
		// combine in quadrature.
		sigAdj, noiseAdj := 1.0, 1.0
		if ctx.ReferenceTemperature != nil {
			diff := float64(temperature - *ctx.ReferenceTemperature)
			sigAdj = math.Pow(2, diff/signalTemperatureModelParameter[p.profile])
			noiseAdj = noiseTemperatureModelSlope*diff + noiseTemperatureModelIntercept
		}
		for i := edge; i < n-edge; i++ {
			j := p.subsweepForBin(i)
			base := ctx.RecordedThresholdMeanSweep[i] / sigAdj
			txOff := ctx.BgNoiseStd[j]
			rec := ctx.RecordedThresholdNoiseStd[j]
			threshold[i] = base + numStds*math.Sqrt(noiseAdj*txOff*txOff+base*base*rec*rec)
		}

	default:
		return nil, fmt.Errorf("unknown threshold method %d", cfg.ThresholdMethod)
	}
	return threshold, nil
}

// subsweepForBin maps a bin in the concatenated segment sweep to the index of
// its data subsweep within the segment.
func (p *Processor) subsweepForBin(bin int) int {
	for i, idx := range p.dataSubsweeps {
		bin -= p.sensorConfig.Subsweeps[idx].NumPoints
		if bin < 0 {
			return i
		}
	}
	return len(p.dataSubsweeps) - 1
}

// numStdsFromSensitivity maps the user-facing sensitivity in [0, 1] to the
// number of noise standard deviations above the estimated level. Sensitivity
// 0 gives 8 standard deviations, 1 gives 1; higher sensitivity lowers the
// threshold.
func numStdsFromSensitivity(sensitivity float64) float64 {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}
	return 8 - 7*sensitivity
}

func calcCFARWindowLength(profile a121.Profile, stepLength int) int {
	windowM := EnvelopeFWHMM[profile] * cfarWindowLengthAdjustment
	return int(windowM / (ApproxBaseStepLengthM * float64(stepLength)))
}

func calcCFARGuardHalfLength(profile a121.Profile, stepLength int) int {
	guardM := EnvelopeFWHMM[profile] * cfarGuardLengthAdjustment
	return int(guardM / (ApproxBaseStepLengthM * float64(stepLength)) / 2)
}

// CalcCFARMargin is the number of bins at each sweep edge that cannot receive
// a CFAR threshold.
func CalcCFARMargin(profile a121.Profile, stepLength int) int {
	return calcCFARWindowLength(profile, stepLength) + calcCFARGuardHalfLength(profile, stepLength)
}

// cfarThreshold writes the CFAR threshold into dst, leaving NaN where a full
// averaging window does not fit. The per-bin tx-off noise level is added to
// the window average before scaling, so the threshold cannot collapse over
// signal-free regions.
func cfarThreshold(dst, absSweep, absNoise []float64, window, guard int, numStds float64, oneSided bool) {
	n := len(absSweep)
	margin := window + guard
	if window <= 0 {
		return
	}
	for i := range dst {
		if i < margin {
			continue
		}
		lead := absSweep[i-margin : i-guard]
		if oneSided {
			dst[i] = numStds * (stat.Mean(lead, nil) + absNoise[i])
			continue
		}
		if i >= n-margin {
			continue
		}
		trail := absSweep[i+guard+1 : i+margin+1]
		dst[i] = numStds * ((stat.Mean(lead, nil)+stat.Mean(trail, nil))/2 + absNoise[i])
	}
}

// findPeaks returns the indexes that exceed the threshold and are local
// maxima. A plateau of equal samples is reported once, at its first index.
func findPeaks(absSweep, threshold []float64) []int {
	var peaks []int
	for i := 1; i < len(absSweep)-1; i++ {
		if math.IsNaN(threshold[i]) || absSweep[i] <= threshold[i] {
			continue
		}
		if absSweep[i] > absSweep[i-1] && absSweep[i] >= absSweep[i+1] {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// interpolatePeak fits a parabola through the three samples around idx and
// returns the fractional bin offset and refined amplitude. ok is false when
// the neighborhood is degenerate.
func interpolatePeak(y []float64, idx int) (offset, amplitude float64, ok bool) {
	if idx < 1 || idx > len(y)-2 {
		return 0, 0, false
	}
	y0, y1, y2 := y[idx-1], y[idx], y[idx+1]
	denom := y0 - 2*y1 + y2
	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return 0, 0, false
	}
	offset = 0.5 * (y0 - y2) / denom
	amplitude = y1 - 0.25*(y0-y2)*offset
	if math.IsNaN(offset) || math.IsInf(offset, 0) || math.IsNaN(amplitude) {
		return 0, 0, false
	}
	return offset, amplitude, true
}

func coherentMean(sweeps [][]complex128) []complex128 {
	if len(sweeps) == 0 {
		return nil
	}
	out := make([]complex128, len(sweeps[0]))
	for _, sweep := range sweeps {
		for k, v := range sweep {
			out[k] += v
		}
	}
	n := complex(float64(len(sweeps)), 0)
	for k := range out {
		out[k] /= n
	}
	return out
}

// CalculateBgNoiseStd estimates the receiver noise standard deviation from a
// transmitter-off subframe by pooling the real and imaginary components.
func CalculateBgNoiseStd(subframe [][]complex128) float64 {
	var components []float64
	for _, sweep := range subframe {
		for _, v := range sweep {
			components = append(components, real(v), imag(v))
		}
	}
	if len(components) < 2 {
		return 0
	}
	return stat.StdDev(components, nil)
}

// CalculateOffset derives the constant sensor distance offset from a
// loopback measurement: the loopback peak should sit at zero distance, so
// its interpolated position is the offset.
func CalculateOffset(result a121.Result, sensorConfig a121.SensorConfig) (float64, error) {
	if len(sensorConfig.Subsweeps) != 1 {
		return 0, fmt.Errorf("offset calibration expects a single subsweep, got %d", len(sensorConfig.Subsweeps))
	}
	sub := sensorConfig.Subsweeps[0]
	if !sub.EnableLoopback {
		return 0, fmt.Errorf("offset calibration requires loopback enabled")
	}

	mean := coherentMean(result.Frame)
	if len(mean) == 0 {
		return 0, fmt.Errorf("empty loopback frame")
	}
	absSweep := make([]float64, len(mean))
	for i, v := range mean {
		absSweep[i] = cmplx.Abs(v)
	}

	idx := floats.MaxIdx(absSweep)
	frac := 0.0
	if off, _, ok := interpolatePeak(absSweep, idx); ok {
		frac = off
	}
	return (float64(sub.StartPoint) + (float64(idx)+frac)*float64(sub.StepLength)) * ApproxBaseStepLengthM, nil
}
