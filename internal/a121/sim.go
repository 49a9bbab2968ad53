package a121

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"sync"
)

// simBaseStepM is the range-bin pitch of the simulated sensor.
const simBaseStepM = 2.5e-3

// simEnvelopeFWHM is the simulated pulse envelope full width at half maximum
// per profile, in meters.
var simEnvelopeFWHM = map[Profile]float64{
	Profile1: 0.04,
	Profile2: 0.07,
	Profile3: 0.14,
	Profile4: 0.19,
	Profile5: 0.32,
}

// simLeakageExtent is how far out the simulated direct leakage reaches.
var simLeakageExtent = map[Profile]float64{
	Profile1: 0.12,
	Profile2: 0.28,
	Profile3: 0.56,
	Profile4: 0.76,
	Profile5: 1.28,
}

// SimTarget is a synthetic reflector in front of the simulated sensor.
type SimTarget struct {
	DistanceM float64
	Amplitude float64
}

// SimClient is a deterministic in-memory Client producing synthetic frames:
// profile-shaped target echoes, direct leakage near the sensor, loopback
// peaks, per-sweep phase jitter and receiver noise. It exists so the whole
// pipeline can run without hardware.
type SimClient struct {
	mu sync.Mutex

	Targets       []SimTarget
	NoiseStd      float64 // receiver noise standard deviation per component
	LeakageAmp    float64 // direct leakage amplitude at zero distance
	PhaseJitter   float64 // per-sweep phase jitter standard deviation, radians
	Temperature   int
	TicksPerFrame uint64

	rng      *rand.Rand
	config   SessionConfig
	setup    bool
	started  bool
	recorder Recorder
	tick     uint64
}

// NewSimClient returns a simulated sensor with one target at 1.5 m and
// reproducible noise.
func NewSimClient(seed int64) *SimClient {
	return &SimClient{
		Targets:       []SimTarget{{DistanceM: 1.5, Amplitude: 300}},
		NoiseStd:      1.0,
		LeakageAmp:    4000,
		PhaseJitter:   0.02,
		Temperature:   25,
		TicksPerFrame: 100_000,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// SetupSession validates and stores the session config.
func (s *SimClient) SetupSession(config SessionConfig) (ExtendedMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, fmt.Errorf("cannot set up session while started")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	s.config = config
	s.setup = true

	metadata := make(ExtendedMetadata, len(config.Groups))
	for i, group := range config.Groups {
		metadata[i] = make(map[int]Metadata, len(group))
		for sensorID, sc := range group {
			metadata[i][sensorID] = NewMetadata(sc)
		}
	}
	return metadata, nil
}

// StartSession begins producing frames.
func (s *SimClient) StartSession(recorder Recorder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.setup {
		return fmt.Errorf("session not set up")
	}
	if s.started {
		return fmt.Errorf("session already started")
	}
	if recorder != nil {
		if err := recorder.Start(s.config); err != nil {
			return fmt.Errorf("recorder start: %w", err)
		}
	}
	s.recorder = recorder
	s.started = true
	return nil
}

// GetNext synthesizes one extended frame.
func (s *SimClient) GetNext() (ExtendedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, fmt.Errorf("session not started")
	}

	result := make(ExtendedResult, len(s.config.Groups))
	for i, group := range s.config.Groups {
		result[i] = make(map[int]Result, len(group))
		s.tick = (s.tick + s.TicksPerFrame) % TickLimit
		for sensorID, sc := range group {
			result[i][sensorID] = Result{
				Frame:       s.synthesizeFrame(sc),
				Temperature: s.Temperature,
				Tick:        uint32(s.tick),
			}
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Sample(result); err != nil {
			return nil, fmt.Errorf("recorder sample: %w", err)
		}
	}
	return result, nil
}

// StopSession stops streaming and closes the recorder if any.
func (s *SimClient) StopSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("session not started")
	}
	s.started = false
	if s.recorder != nil {
		err := s.recorder.Stop()
		s.recorder = nil
		if err != nil {
			return fmt.Errorf("recorder stop: %w", err)
		}
	}
	return nil
}

func (s *SimClient) synthesizeFrame(sc SensorConfig) [][]complex128 {
	frame := make([][]complex128, sc.SweepsPerFrame)
	for sweepIdx := range frame {
		jitter := s.rng.NormFloat64() * s.PhaseJitter
		sweep := make([]complex128, 0, sc.NumPoints())
		for _, sub := range sc.Subsweeps {
			sweep = append(sweep, s.synthesizeSubsweep(sub, jitter)...)
		}
		frame[sweepIdx] = sweep
	}
	return frame
}

func (s *SimClient) synthesizeSubsweep(sub SubsweepConfig, jitter float64) []complex128 {
	out := make([]complex128, sub.NumPoints)

	// Averaging HWAAS sweeps scales coherent signal by N and noise by sqrt(N).
	gain := float64(sub.HWAAS)
	noiseStd := s.NoiseStd * math.Sqrt(gain)
	phasor := cmplx.Exp(complex(0, jitter))

	for k := range out {
		noise := complex(s.rng.NormFloat64()*noiseStd, s.rng.NormFloat64()*noiseStd)
		if !sub.EnableTX {
			out[k] = noise
			continue
		}

		point := sub.StartPoint + k*sub.StepLength
		distM := float64(point) * simBaseStepM

		var amp float64
		if sub.EnableLoopback {
			// Loopback routes the TX pulse straight into the receiver: a
			// single strong echo at zero distance.
			amp = s.LeakageAmp * envelope(distM, simEnvelopeFWHM[sub.Profile])
		} else {
			amp = s.LeakageAmp * envelope(distM, simLeakageExtent[sub.Profile])
			for _, t := range s.Targets {
				amp += t.Amplitude * envelope(distM-t.DistanceM, simEnvelopeFWHM[sub.Profile])
			}
		}
		out[k] = complex(amp*gain, 0)*phasor + noise
	}
	return out
}

// envelope is a Gaussian pulse envelope with the given FWHM, peaking at x=0.
func envelope(x, fwhm float64) float64 {
	sigma := fwhm / 2.3548
	return math.Exp(-x * x / (2 * sigma * sigma))
}
