package distance

import (
	"errors"
	"fmt"

	"github.com/scaprile/gentry/internal/a121"
	"github.com/scaprile/gentry/internal/monitoring"
)

// Calibration session parameters.
const (
	noiseCalibrationNumPoints = 500

	offsetCalibrationStartPoint = -30
	offsetCalibrationNumPoints  = 50
	offsetCalibrationHWAAS      = 64
)

// CalibrateNoise measures the receiver noise floor with the transmitter off
// and stores one standard deviation per data subsweep of every segment. Runs
// only while stopped.
func (d *Detector) CalibrateNoise() error {
	if err := d.validateReadyForCalibration(); err != nil {
		return err
	}

	noiseSession := noiseSessionConfig(d.sessionConfig)
	frames, err := d.runCalibrationSession(noiseSession, 1)
	if err != nil {
		return fmt.Errorf("noise session: %w", err)
	}
	extended := frames[0]

	bgNoiseStd := make([][]float64, len(d.specs))
	for i, spec := range d.specs {
		if spec.GroupIndex >= len(extended) {
			return fmt.Errorf("noise frame missing group %d", spec.GroupIndex)
		}
		result, ok := extended[spec.GroupIndex][spec.SensorID]
		if !ok {
			return fmt.Errorf("noise frame missing sensor %d in group %d", spec.SensorID, spec.GroupIndex)
		}
		noiseConfig := noiseSession.Groups[spec.GroupIndex][spec.SensorID]
		origConfig := d.sessionConfig.Groups[spec.GroupIndex][spec.SensorID]

		for _, idx := range spec.SubsweepIndexes {
			// Loopback subsweeps carry the transmit reference, not noise.
			if origConfig.Subsweeps[idx].EnableLoopback {
				continue
			}
			subframe, err := result.Subframe(noiseConfig, idx)
			if err != nil {
				return fmt.Errorf("noise subframe %d: %w", idx, err)
			}
			bgNoiseStd[i] = append(bgNoiseStd[i], CalculateBgNoiseStd(subframe))
		}
	}

	d.context.BgNoiseStd = bgNoiseStd
	d.notifyCalibration("noise")
	return nil
}

// CalibrateOffset measures the constant distance offset of the sensor from a
// loopback sweep around zero and stores it in the context.
func (d *Detector) CalibrateOffset() error {
	if err := d.validateReadyForCalibration(); err != nil {
		return err
	}

	sensorConfig := a121.SensorConfig{
		SweepsPerFrame: 1,
		Subsweeps: []a121.SubsweepConfig{{
			StartPoint:       offsetCalibrationStartPoint,
			NumPoints:        offsetCalibrationNumPoints,
			StepLength:       1,
			Profile:          a121.Profile1,
			HWAAS:            offsetCalibrationHWAAS,
			ReceiverGain:     15,
			EnableTX:         true,
			EnableLoopback:   true,
			PhaseEnhancement: true,
		}},
	}
	session := a121.NewSessionConfig(d.sensorID, sensorConfig)

	frames, err := d.runCalibrationSession(session, 1)
	if err != nil {
		return fmt.Errorf("offset session: %w", err)
	}
	result, ok := frames[0][0][d.sensorID]
	if !ok {
		return fmt.Errorf("offset frame missing sensor %d", d.sensorID)
	}

	offsetM, err := CalculateOffset(result, sensorConfig)
	if err != nil {
		return fmt.Errorf("offset estimate: %w", err)
	}
	d.context.OffsetM = &offsetM
	d.notifyCalibration("offset")
	monitoring.Logf("offset calibration: %.4f m", offsetM)
	return nil
}

// CalibrateCloseRange records the direct leakage of the close-range segment
// and derives the phase-jitter reference from it. Any recorded threshold is
// invalidated since the leakage subtraction changes the background.
func (d *Detector) CalibrateCloseRange() error {
	if err := d.validateReadyForCalibration(); err != nil {
		return err
	}

	var closeSpecs []ProcessorSpec
	for _, spec := range d.specs {
		if spec.Config.MeasurementType == CloseRange {
			closeSpecs = append(closeSpecs, spec)
		}
	}
	if len(closeSpecs) != 1 {
		return fmt.Errorf("close range calibration requires exactly one close range segment, plan has %d",
			len(closeSpecs))
	}
	closeSpecs = withProcessorMode(closeSpecs, LeakageCalibration)

	metadata, err := d.client.SetupSession(d.sessionConfig)
	if err != nil {
		return fmt.Errorf("setup session: %w", err)
	}
	aggregator, err := NewAggregator(d.sessionConfig, metadata,
		AggregatorConfig{}, AggregatorContext{}, closeSpecs)
	if err != nil {
		return fmt.Errorf("build aggregator: %w", err)
	}

	if err := d.client.StartSession(nil); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	extended, getErr := d.client.GetNext()
	stopErr := d.client.StopSession()
	if getErr != nil {
		return fmt.Errorf("get frame: %w", getErr)
	}
	if stopErr != nil {
		return fmt.Errorf("stop session: %w", stopErr)
	}

	aggregated, err := aggregator.Process(extended)
	if err != nil {
		return fmt.Errorf("process leakage frame: %w", err)
	}
	leakage := aggregated.ProcessorResults[0]

	d.context.CloseRange = &CloseRangeCalibration{
		DirectLeakage:            leakage.DirectLeakage,
		PhaseJitterCompReference: leakage.PhaseJitterCompReference,
		SessionConfigUsed:        d.sessionConfig,
	}
	d.context.RecordedThreshold = nil
	d.notifyCalibration("close_range")
	monitoring.Logf("close range calibration: %d leakage bins", len(leakage.DirectLeakage))
	return nil
}

// RecordThreshold averages the configured number of background frames into a
// recorded threshold for every segment. The noise calibration reruns first so
// the stored deviations match the session.
func (d *Detector) RecordThreshold() error {
	if err := d.validateReadyForCalibration(); err != nil {
		return err
	}
	if status := d.Status(); !status.ReadyToRecordThreshold {
		return fmt.Errorf("%w: %s", ErrNotReady, status.State)
	}

	if err := d.CalibrateNoise(); err != nil {
		return fmt.Errorf("noise calibration: %w", err)
	}

	specs, err := d.addContextToSpecs(withProcessorMode(d.specs, RecordedThresholdCalibration))
	if err != nil {
		return err
	}

	metadata, err := d.client.SetupSession(d.sessionConfig)
	if err != nil {
		return fmt.Errorf("setup session: %w", err)
	}
	aggregator, err := NewAggregator(d.sessionConfig, metadata,
		AggregatorConfig{}, AggregatorContext{}, specs)
	if err != nil {
		return fmt.Errorf("build aggregator: %w", err)
	}

	if err := d.client.StartSession(nil); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	var last *AggregatorResult
	referenceTemperature := 0
	numFrames := d.config.NumFramesInRecordedThreshold
	for frame := 0; frame < numFrames; frame++ {
		extended, err := d.client.GetNext()
		if err != nil {
			stopErr := d.client.StopSession()
			return errors.Join(fmt.Errorf("get frame %d: %w", frame, err), stopErr)
		}
		last, err = aggregator.Process(extended)
		if err != nil {
			stopErr := d.client.StopSession()
			return errors.Join(fmt.Errorf("process frame %d: %w", frame, err), stopErr)
		}
		if r, ok := extended[0][d.sensorID]; ok {
			referenceTemperature = r.Temperature
		}
	}
	if err := d.client.StopSession(); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}

	meanSweeps := make([][]float64, len(last.ProcessorResults))
	noiseStds := make([][]float64, len(last.ProcessorResults))
	for i, pr := range last.ProcessorResults {
		if pr.RecordedThresholdNoiseStd == nil {
			return fmt.Errorf("segment %d: %d frames are too few for a valid threshold", i, numFrames)
		}
		meanSweeps[i] = pr.RecordedThresholdMeanSweep
		noiseStds[i] = pr.RecordedThresholdNoiseStd
	}

	d.context.RecordedThreshold = &RecordedThresholdCalibrationData{
		MeanSweeps:           meanSweeps,
		NoiseStds:            noiseStds,
		SessionConfigUsed:    d.sessionConfig,
		ReferenceTemperature: referenceTemperature,
	}
	d.notifyCalibration("recorded_threshold")
	monitoring.Logf("recorded threshold: %d frames, reference temperature %d degC",
		numFrames, referenceTemperature)
	return nil
}

// validateReadyForCalibration gates every calibration on the lifecycle state.
func (d *Detector) validateReadyForCalibration() error {
	if d.started {
		return ErrAlreadyStarted
	}
	if len(d.specs) == 0 {
		return ErrNotPlanned
	}
	return nil
}

func (d *Detector) notifyCalibration(kind string) {
	if d.observer != nil {
		d.observer.CalibrationPerformed(kind)
	}
}

// runCalibrationSession runs a short throwaway session and returns the frames.
// The session is always stopped, also on a read error.
func (d *Detector) runCalibrationSession(session a121.SessionConfig, numFrames int) ([]a121.ExtendedResult, error) {
	if _, err := d.client.SetupSession(session); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if err := d.client.StartSession(nil); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	frames := make([]a121.ExtendedResult, 0, numFrames)
	var readErr error
	for i := 0; i < numFrames; i++ {
		extended, err := d.client.GetNext()
		if err != nil {
			readErr = fmt.Errorf("frame %d: %w", i, err)
			break
		}
		frames = append(frames, extended)
	}
	stopErr := d.client.StopSession()
	if readErr != nil {
		return nil, errors.Join(readErr, stopErr)
	}
	if stopErr != nil {
		return nil, fmt.Errorf("stop: %w", stopErr)
	}
	return frames, nil
}

// noiseSessionConfig derives the transmitter-off variant of a session: same
// group and subsweep structure, step length 1 from point zero so the noise
// estimate is independent of the measured range.
func noiseSessionConfig(session a121.SessionConfig) a121.SessionConfig {
	groups := make([]map[int]a121.SensorConfig, len(session.Groups))
	for g, group := range session.Groups {
		groups[g] = make(map[int]a121.SensorConfig, len(group))
		for sensorID, sensorConfig := range group {
			out := sensorConfig
			out.SweepsPerFrame = 1
			out.Subsweeps = make([]a121.SubsweepConfig, len(sensorConfig.Subsweeps))
			for i, sub := range sensorConfig.Subsweeps {
				sub.EnableTX = false
				sub.EnableLoopback = false
				sub.StepLength = 1
				sub.StartPoint = 0
				sub.NumPoints = noiseCalibrationNumPoints
				out.Subsweeps[i] = sub
			}
			groups[g][sensorID] = out
		}
	}
	return a121.SessionConfig{Groups: groups, Extended: session.Extended}
}
