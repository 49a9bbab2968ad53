package a121

import "fmt"

// TicksPerSecond is the rate of the sensor's free-running sample counter.
const TicksPerSecond = 1_000_000

// TickLimit is the value at which the 32-bit tick counter wraps.
const TickLimit = uint64(1) << 32

// Metadata describes the frame layout for one sensor in one group, produced
// when a session is set up.
type Metadata struct {
	FrameDataLength  int   // points per frame (sweeps * sweep length)
	SweepDataLength  int   // points per sweep
	SubsweepOffsets  []int // start offset of each subsweep within a sweep
	SubsweepLengths  []int // number of points in each subsweep
	MaxSweepRateHz   float64
	TickPeriodLength int // service ticks between frames, 0 if uncapped
}

// NewMetadata derives frame layout metadata from a sensor config.
func NewMetadata(config SensorConfig) Metadata {
	lengths := make([]int, len(config.Subsweeps))
	for i, sub := range config.Subsweeps {
		lengths[i] = sub.NumPoints
	}
	sweepLen := config.NumPoints()
	return Metadata{
		FrameDataLength: sweepLen * config.SweepsPerFrame,
		SweepDataLength: sweepLen,
		SubsweepOffsets: config.SubsweepOffsets(),
		SubsweepLengths: lengths,
	}
}

// Result is one sensor's measurement for one frame: complex IQ samples per
// sweep plus service-level metadata.
type Result struct {
	// Frame holds SweepsPerFrame sweeps, each with the full sweep's points.
	Frame [][]complex128

	// Temperature is the sensor die temperature in degrees Celsius.
	Temperature int

	// Tick is the raw 32-bit wrapping sample counter at frame capture.
	Tick uint32

	FrameDelayed bool
}

// Subframe returns the samples belonging to one subsweep, as sweeps x points.
// The returned slices alias the frame.
func (r Result) Subframe(config SensorConfig, subsweepIdx int) ([][]complex128, error) {
	if subsweepIdx < 0 || subsweepIdx >= len(config.Subsweeps) {
		return nil, fmt.Errorf("subsweep index %d out of range (%d subsweeps)", subsweepIdx, len(config.Subsweeps))
	}
	offset := config.SubsweepOffsets()[subsweepIdx]
	length := config.Subsweeps[subsweepIdx].NumPoints
	out := make([][]complex128, len(r.Frame))
	for i, sweep := range r.Frame {
		if offset+length > len(sweep) {
			return nil, fmt.Errorf("sweep %d too short for subsweep %d: have %d points, need %d",
				i, subsweepIdx, len(sweep), offset+length)
		}
		out[i] = sweep[offset : offset+length]
	}
	return out, nil
}

// ExtendedResult is one extended frame: per group, sensor id to result.
type ExtendedResult []map[int]Result

// ExtendedMetadata mirrors the session group structure for metadata.
type ExtendedMetadata []map[int]Metadata
