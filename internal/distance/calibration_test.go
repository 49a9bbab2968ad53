package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaprile/gentry/internal/a121"
)

func TestNoiseSessionConfig(t *testing.T) {
	config := closeRangeConfig()
	session := plannedSession(t, config)

	noise := noiseSessionConfig(session)
	require.Len(t, noise.Groups, len(session.Groups))

	for g, group := range noise.Groups {
		for sensorID, sensorConfig := range group {
			assert.Equal(t, 1, sensorConfig.SweepsPerFrame, "group %d sensor %d", g, sensorID)
			require.Len(t, sensorConfig.Subsweeps, len(session.Groups[g][sensorID].Subsweeps))
			for i, sub := range sensorConfig.Subsweeps {
				assert.False(t, sub.EnableTX, "subsweep %d still transmitting", i)
				assert.False(t, sub.EnableLoopback, "subsweep %d still in loopback", i)
				assert.Equal(t, 0, sub.StartPoint)
				assert.Equal(t, 1, sub.StepLength)
				assert.Equal(t, noiseCalibrationNumPoints, sub.NumPoints)
			}
		}
	}

	// The original session must stay untouched.
	assert.True(t, session.Groups[0][1].Subsweeps[1].EnableTX)
}

func TestCalibrateNoise(t *testing.T) {
	client := a121.NewSimClient(11)
	detector, err := NewDetector(client, 1, DefaultDetectorConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, detector.CalibrateNoise())

	stds := detector.Context().BgNoiseStd
	require.Len(t, stds, len(detector.Specs()))
	for i, segment := range stds {
		require.NotEmpty(t, segment, "segment %d has no noise estimate", i)
		for j, std := range segment {
			assert.Greater(t, std, 0.0, "segment %d subsweep %d", i, j)
		}
	}
}

func TestCalibrateNoiseScalesWithHWAAS(t *testing.T) {
	// Hardware averaging accumulates noise with sqrt(N): the measured
	// deviation should track sqrt(HWAAS) of each subsweep.
	client := a121.NewSimClient(13)
	client.NoiseStd = 2.0

	detector, err := NewDetector(client, 1, DefaultDetectorConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, detector.CalibrateNoise())

	session := detector.SessionConfig()
	for i, spec := range detector.Specs() {
		for j, subIdx := range spec.SubsweepIndexes {
			hwaas := session.Groups[spec.GroupIndex][spec.SensorID].Subsweeps[subIdx].HWAAS
			want := 2.0 * math.Sqrt(float64(hwaas))
			got := detector.Context().BgNoiseStd[i][j]
			assert.InDelta(t, want, got, want*0.15,
				"segment %d subsweep %d: std %v for hwaas %d", i, j, got, hwaas)
		}
	}
}

func TestCalibrateOffset(t *testing.T) {
	client := a121.NewSimClient(17)
	detector, err := NewDetector(client, 1, DefaultDetectorConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, detector.CalibrateOffset())
	require.NotNil(t, detector.Context().OffsetM)

	// The simulated loopback peak sits at zero distance.
	assert.InDelta(t, 0.0, *detector.Context().OffsetM, 0.005)
}

func TestRecordThresholdBlockedWithoutRecordedSegments(t *testing.T) {
	// With CFAR far range only, there is nothing a recorded threshold would
	// feed; the operation is refused rather than silently recorded.
	client := a121.NewSimClient(19)
	detector, err := NewDetector(client, 1, DefaultDetectorConfig(), nil)
	require.NoError(t, err)

	err = detector.RecordThreshold()
	require.ErrorIs(t, err, ErrNotReady)
}

func TestRecordThresholdFarRangeRecordedMethod(t *testing.T) {
	client := a121.NewSimClient(23)
	client.Targets = nil

	config := DefaultDetectorConfig()
	config.ThresholdMethod = ThresholdRecorded
	config.NumFramesInRecordedThreshold = 4
	detector, err := NewDetector(client, 1, config, nil)
	require.NoError(t, err)

	require.NoError(t, detector.RecordThreshold())

	rt := detector.Context().RecordedThreshold
	require.NotNil(t, rt)
	assert.Len(t, rt.MeanSweeps, len(detector.Specs()))
	assert.Len(t, rt.NoiseStds, len(detector.Specs()))
	for i, segment := range rt.NoiseStds {
		require.NotEmpty(t, segment, "segment %d has no recorded deviation", i)
		for j, std := range segment {
			assert.False(t, math.IsNaN(std) || std < 0,
				"segment %d subsweep %d: recorded deviation %v", i, j, std)
		}
	}
	assert.Equal(t, client.Temperature, rt.ReferenceTemperature)
	assert.True(t, rt.SessionConfigUsed.Equal(detector.SessionConfig()))

	status := detector.Status()
	assert.Equal(t, StatusOK, status.State)
	assert.True(t, status.ReadyToStart)
}
