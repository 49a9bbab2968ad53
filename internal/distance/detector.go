// Package distance implements the radar distance-detection pipeline: range
// planning, calibration, per-segment signal processing and cross-segment
// aggregation, orchestrated by a detector state machine. It consumes raw
// extended frames from an a121.Client and produces calibrated distance
// estimates.
package distance

import (
	"errors"
	"fmt"
	"time"

	"github.com/scaprile/gentry/internal/a121"
	"github.com/scaprile/gentry/internal/monitoring"
)

// Sequencing contract violations.
var (
	ErrAlreadyStarted = errors.New("detector already started")
	ErrNotStarted     = errors.New("detector not started")
	ErrNotReady       = errors.New("detector not ready to start")
	ErrNotPlanned     = errors.New("detector has no processor specification")
)

// DetailedStatus is the detector readiness state, recomputed from
// (config, context) on every request and never stored.
type DetailedStatus int

const (
	StatusOK DetailedStatus = iota
	StatusCloseRangeCalibrationMissing
	StatusCloseRangeCalibrationConfigMismatch
	StatusRecordedThresholdMissing
	StatusRecordedThresholdConfigMismatch
	StatusInvalidConfigRange
)

func (s DetailedStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCloseRangeCalibrationMissing:
		return "CLOSE_RANGE_CALIBRATION_MISSING"
	case StatusCloseRangeCalibrationConfigMismatch:
		return "CLOSE_RANGE_CALIBRATION_CONFIG_MISMATCH"
	case StatusRecordedThresholdMissing:
		return "RECORDED_THRESHOLD_MISSING"
	case StatusRecordedThresholdConfigMismatch:
		return "RECORDED_THRESHOLD_CONFIG_MISMATCH"
	case StatusInvalidConfigRange:
		return "INVALID_CONFIG_RANGE"
	}
	return fmt.Sprintf("DetailedStatus(%d)", int(s))
}

// DetectorStatus combines the detailed state with readiness flags a caller
// checks before issuing calibration or start calls.
type DetectorStatus struct {
	State                      DetailedStatus
	ReadyToCalibrateCloseRange bool
	ReadyToRecordThreshold     bool
	ReadyToStart               bool
}

// Status evaluates the detector readiness as a pure function of the
// configuration and the accumulated calibration context.
func Status(config DetectorConfig, context *DetectorContext, sensorID int) DetectorStatus {
	if !config.validRange() {
		return DetectorStatus{State: StatusInvalidConfigRange}
	}

	sessionConfig, specs, err := SessionConfigAndSpecs(config, sensorID)
	if err != nil {
		return DetectorStatus{State: StatusInvalidConfigRange}
	}

	hasCloseRange := false
	hasRecordedThresholdMode := false
	for _, spec := range specs {
		if spec.Config.MeasurementType == CloseRange {
			hasCloseRange = true
		}
		if spec.Config.ThresholdMethod == ThresholdRecorded {
			hasRecordedThresholdMode = true
		}
	}

	var state DetailedStatus
	readyToRecord := false

	switch {
	case hasCloseRange:
		switch {
		case !context.closeRangeCalibrated():
			state = StatusCloseRangeCalibrationMissing
		case !sessionConfig.Equal(context.CloseRange.SessionConfigUsed):
			state = StatusCloseRangeCalibrationConfigMismatch
		case !context.recordedThresholdCalibrated():
			state = StatusRecordedThresholdMissing
			readyToRecord = true
		case !sessionConfig.Equal(context.RecordedThreshold.SessionConfigUsed):
			state = StatusRecordedThresholdConfigMismatch
		default:
			state = StatusOK
			readyToRecord = true
		}
		return DetectorStatus{
			State:                      state,
			ReadyToCalibrateCloseRange: true,
			ReadyToRecordThreshold:     readyToRecord,
			ReadyToStart:               state == StatusOK,
		}

	case hasRecordedThresholdMode:
		switch {
		case !context.recordedThresholdCalibrated():
			state = StatusRecordedThresholdMissing
		case !sessionConfig.Equal(context.RecordedThreshold.SessionConfigUsed):
			state = StatusRecordedThresholdConfigMismatch
		default:
			state = StatusOK
		}
		return DetectorStatus{
			State:                  state,
			ReadyToRecordThreshold: true,
			ReadyToStart:           state == StatusOK,
		}

	default:
		return DetectorStatus{State: StatusOK, ReadyToStart: true}
	}
}

// DetectorResult is the aggregated per-tick output.
type DetectorResult struct {
	// Distances holds the estimated distances in meters, ordered by the
	// configured peak sorting method, offset-corrected.
	Distances  []float64
	Amplitudes []float64

	ProcessorResults      []*ProcessorResult
	ServiceExtendedResult a121.ExtendedResult
	TimestampUS           uint64
	Temperature           int
}

// Observer receives detector activity notifications; implementations must be
// cheap, they run on the processing path.
type Observer interface {
	FrameProcessed(numDistances int, elapsed time.Duration)
	CalibrationPerformed(kind string)
}

// Detector owns the pipeline components and the calibration context, and
// enforces the configure -> calibrate -> start -> get-next -> stop lifecycle.
// It is not safe for concurrent use; the state machine replaces locking.
type Detector struct {
	client   a121.Client
	sensorID int
	config   DetectorConfig
	context  *DetectorContext

	sessionConfig a121.SessionConfig
	specs         []ProcessorSpec
	aggregator    *Aggregator
	started       bool
	observer      Observer
}

// NewDetector plans the session for the given config. A nil context starts
// from an empty calibration state.
func NewDetector(client a121.Client, sensorID int, config DetectorConfig, context *DetectorContext) (*Detector, error) {
	if context == nil {
		context = &DetectorContext{}
	}
	d := &Detector{
		client:   client,
		sensorID: sensorID,
		context:  context,
	}
	if err := d.UpdateConfig(config); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateConfig replans the session and processor specification. Any existing
// calibration context is kept; staleness shows up in Status.
func (d *Detector) UpdateConfig(config DetectorConfig) error {
	if d.started {
		return ErrAlreadyStarted
	}
	sessionConfig, specs, err := SessionConfigAndSpecs(config, d.sensorID)
	if err != nil {
		return fmt.Errorf("plan session: %w", err)
	}
	d.config = config
	d.sessionConfig = sessionConfig
	d.specs = specs
	return nil
}

// Config returns the current configuration.
func (d *Detector) Config() DetectorConfig { return d.config }

// Context returns the calibration context, for persistence.
func (d *Detector) Context() *DetectorContext { return d.context }

// SessionConfig returns the planned sensor session.
func (d *Detector) SessionConfig() a121.SessionConfig { return d.sessionConfig }

// Specs returns a copy of the planned per-segment processor specification.
func (d *Detector) Specs() []ProcessorSpec {
	out := make([]ProcessorSpec, len(d.specs))
	copy(out, d.specs)
	return out
}

// SetObserver wires activity notifications, e.g. a metrics collector.
func (d *Detector) SetObserver(o Observer) { d.observer = o }

// Status reports the detector readiness for the live config and context.
func (d *Detector) Status() DetectorStatus {
	return Status(d.config, d.context, d.sensorID)
}

// Start sets up the measurement session. Unless skipCalibration is set, the
// noise and offset calibrations run first. Start refuses to run while the
// status is not fully ready.
func (d *Detector) Start(recorder a121.Recorder, skipCalibration bool) error {
	if d.started {
		return ErrAlreadyStarted
	}
	status := d.Status()
	if !status.ReadyToStart {
		return fmt.Errorf("%w: %s", ErrNotReady, status.State)
	}

	if !skipCalibration {
		if err := d.CalibrateNoise(); err != nil {
			return fmt.Errorf("noise calibration: %w", err)
		}
		if err := d.CalibrateOffset(); err != nil {
			return fmt.Errorf("offset calibration: %w", err)
		}
	}

	offsetM := 0.0
	if d.context.OffsetM != nil {
		offsetM = *d.context.OffsetM
	}

	specs, err := d.addContextToSpecs(d.specs)
	if err != nil {
		return err
	}
	metadata, err := d.client.SetupSession(d.sessionConfig)
	if err != nil {
		return fmt.Errorf("setup session: %w", err)
	}
	d.aggregator, err = NewAggregator(d.sessionConfig, metadata,
		AggregatorConfig{PeakSorting: d.config.PeakSorting},
		AggregatorContext{OffsetM: offsetM},
		specs)
	if err != nil {
		return fmt.Errorf("build aggregator: %w", err)
	}

	if err := d.client.StartSession(recorder); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	d.started = true
	monitoring.Logf("detector started: range [%.3f, %.3f] m, %d segments, threshold %s",
		d.config.StartM, d.config.EndM, len(d.specs), d.config.ThresholdMethod)
	return nil
}

// GetNext fetches and processes one extended frame. On any error the tick is
// discarded whole; no partial result is returned.
func (d *Detector) GetNext() (*DetectorResult, error) {
	if !d.started {
		return nil, ErrNotStarted
	}
	began := time.Now()

	extended, err := d.client.GetNext()
	if err != nil {
		return nil, fmt.Errorf("get next frame: %w", err)
	}
	aggregated, err := d.aggregator.Process(extended)
	if err != nil {
		return nil, fmt.Errorf("process frame: %w", err)
	}

	temperature := 0
	if len(extended) > 0 {
		if r, ok := extended[0][d.sensorID]; ok {
			temperature = r.Temperature
		}
	}

	if d.observer != nil {
		d.observer.FrameProcessed(len(aggregated.EstimatedDistances), time.Since(began))
	}
	monitoring.Debugf("frame t=%dus: %d peaks, temperature %d degC",
		aggregated.TimestampUS, len(aggregated.EstimatedDistances), temperature)

	return &DetectorResult{
		Distances:             aggregated.EstimatedDistances,
		Amplitudes:            aggregated.EstimatedAmplitudes,
		ProcessorResults:      aggregated.ProcessorResults,
		ServiceExtendedResult: aggregated.ServiceExtendedResult,
		TimestampUS:           aggregated.TimestampUS,
		Temperature:           temperature,
	}, nil
}

// Stop ends the measurement session.
func (d *Detector) Stop() error {
	if !d.started {
		return ErrNotStarted
	}
	if err := d.client.StopSession(); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	d.started = false
	monitoring.Logf("detector stopped")
	return nil
}

// addContextToSpecs binds the accumulated calibration context to each
// segment's spec, by segment index.
func (d *Detector) addContextToSpecs(specs []ProcessorSpec) ([]ProcessorSpec, error) {
	out := make([]ProcessorSpec, len(specs))
	for idx, spec := range specs {
		ctx := ProcessorContext{}

		if d.context.BgNoiseStd != nil {
			if idx >= len(d.context.BgNoiseStd) {
				return nil, fmt.Errorf("noise calibration has %d segments, plan has %d",
					len(d.context.BgNoiseStd), len(specs))
			}
			ctx.BgNoiseStd = d.context.BgNoiseStd[idx]
		}
		if d.context.RecordedThreshold != nil {
			rt := d.context.RecordedThreshold
			if idx >= len(rt.MeanSweeps) || idx >= len(rt.NoiseStds) {
				return nil, fmt.Errorf("recorded threshold has %d segments, plan has %d",
					len(rt.MeanSweeps), len(specs))
			}
			ctx.RecordedThresholdMeanSweep = rt.MeanSweeps[idx]
			ctx.RecordedThresholdNoiseStd = rt.NoiseStds[idx]
			temp := rt.ReferenceTemperature
			ctx.ReferenceTemperature = &temp
		}
		if d.context.CloseRange != nil {
			ctx.DirectLeakage = d.context.CloseRange.DirectLeakage
			ctx.PhaseJitterCompReference = d.context.CloseRange.PhaseJitterCompReference
		}

		spec.Context = ctx
		out[idx] = spec
	}
	return out, nil
}

// withProcessorMode returns a copy of the specs with the mode replaced.
func withProcessorMode(specs []ProcessorSpec, mode ProcessorMode) []ProcessorSpec {
	out := make([]ProcessorSpec, len(specs))
	for i, spec := range specs {
		spec.Config.Mode = mode
		out[i] = spec
	}
	return out
}
