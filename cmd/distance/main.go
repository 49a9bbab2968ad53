// Command distance runs the distance detector against the simulated sensor:
// plan, calibrate, stream frames and print the estimates. Calibrations are
// persisted to a local sqlite database and reused across runs while the
// planned session still matches. Prometheus metrics are served when a metrics
// address is given.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scaprile/gentry/internal/a121"
	"github.com/scaprile/gentry/internal/calstore"
	"github.com/scaprile/gentry/internal/distance"
	"github.com/scaprile/gentry/internal/monitoring"
	"github.com/scaprile/gentry/internal/observability"
	"github.com/scaprile/gentry/internal/timeutil"
)

func main() {
	var (
		sensorID      = flag.Int("sensor", 1, "sensor id")
		startM        = flag.Float64("start", 0.25, "measurement start in meters")
		endM          = flag.Float64("end", 3.0, "measurement end in meters")
		maxProfile    = flag.Int("max-profile", 5, "longest allowed profile (1-5)")
		maxStepLength = flag.Int("max-step-length", 0, "step length limit, 0 selects from profile")
		signalQuality = flag.Float64("signal-quality", 15.0, "signal quality target in dB")
		threshold     = flag.String("threshold", "cfar", "threshold method: cfar, fixed or recorded")
		fixedValue    = flag.Float64("fixed-value", distance.DefaultFixedThresholdValue, "fixed threshold value")
		sensitivity   = flag.Float64("sensitivity", distance.DefaultThresholdSensitivity, "threshold sensitivity in (0, 1]")
		sorting       = flag.String("sorting", "highest-rcs", "peak sorting: closest, strongest or highest-rcs")
		frames        = flag.Int("frames", 10, "number of frames to process")
		interval      = flag.Duration("interval", 100*time.Millisecond, "delay between frames")
		dbPath        = flag.String("db", "calibrations.db", "calibration database path")
		noStore       = flag.Bool("no-store", false, "skip loading and saving calibrations")
		metricsAddr   = flag.String("metrics-addr", "", "address to serve /metrics on, empty disables")
		targetDist    = flag.Float64("target-dist", 1.5, "simulated target distance in meters")
		targetAmp     = flag.Float64("target-amp", 300, "simulated target amplitude")
		seed          = flag.Int64("seed", 1, "simulation random seed")
		debug         = flag.Bool("debug", false, "enable per-frame debug logging")
	)
	flag.Parse()
	monitoring.SetDebug(*debug)

	config := distance.DefaultDetectorConfig()
	config.StartM = *startM
	config.EndM = *endM
	config.MaxProfile = a121.Profile(*maxProfile)
	config.MaxStepLength = *maxStepLength
	config.SignalQuality = *signalQuality
	config.FixedThresholdValue = *fixedValue
	config.ThresholdSensitivity = *sensitivity

	var err error
	if config.ThresholdMethod, err = parseThresholdMethod(*threshold); err != nil {
		log.Fatal(err)
	}
	if config.PeakSorting, err = parsePeakSorting(*sorting); err != nil {
		log.Fatal(err)
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	client := a121.NewSimClient(*seed)
	client.Targets = []a121.SimTarget{{DistanceM: *targetDist, Amplitude: *targetAmp}}

	var store *calstore.Store
	var context *distance.DetectorContext
	if !*noStore {
		store, err = calstore.NewStore(*dbPath, timeutil.RealClock{})
		if err != nil {
			log.Fatalf("open calibration store: %v", err)
		}
		defer store.Close()

		saved, err := store.LoadLatest(*sensorID)
		switch {
		case err == nil:
			context = saved.Context
			log.Printf("loaded calibration %s from %s", saved.ID, saved.SavedAt.Format(time.RFC3339))
		case errors.Is(err, calstore.ErrNotFound):
		default:
			log.Fatalf("load calibration: %v", err)
		}
	}

	detector, err := distance.NewDetector(client, *sensorID, config, context)
	if err != nil {
		log.Fatalf("create detector: %v", err)
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		detector.SetObserver(observability.NewDetectorMetrics(reg))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler(reg))
			log.Printf("serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	if err := run(detector, *frames, *interval, timeutil.RealClock{}); err != nil {
		log.Fatal(err)
	}

	if store != nil {
		id, err := store.Save(*sensorID, detector.Config(), detector.Context())
		if err != nil {
			log.Fatalf("save calibration: %v", err)
		}
		log.Printf("saved calibration %s", id)
	}
}

func run(detector *distance.Detector, frames int, interval time.Duration, clock timeutil.Clock) error {
	status := detector.Status()
	if status.State == distance.StatusCloseRangeCalibrationMissing ||
		status.State == distance.StatusCloseRangeCalibrationConfigMismatch {
		log.Printf("close range calibration required, keep the sensor clear")
		if err := detector.CalibrateCloseRange(); err != nil {
			return fmt.Errorf("close range calibration: %w", err)
		}
		status = detector.Status()
	}
	if status.ReadyToRecordThreshold && !status.ReadyToStart {
		log.Printf("recording threshold, keep the scene static")
		if err := detector.RecordThreshold(); err != nil {
			return fmt.Errorf("record threshold: %w", err)
		}
	}

	if err := detector.Start(nil, false); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		if err := detector.Stop(); err != nil {
			log.Printf("stop: %v", err)
		}
	}()

	for i := 0; i < frames; i++ {
		result, err := detector.GetNext()
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		fmt.Printf("t=%dus temp=%dC distances=%s\n",
			result.TimestampUS, result.Temperature, formatEstimates(result))
		clock.Sleep(interval)
	}
	return nil
}

func formatEstimates(result *distance.DetectorResult) string {
	if len(result.Distances) == 0 {
		return "none"
	}
	parts := make([]string, len(result.Distances))
	for i := range result.Distances {
		parts[i] = fmt.Sprintf("%.3fm(%.0f)", result.Distances[i], result.Amplitudes[i])
	}
	return strings.Join(parts, " ")
}

func parseThresholdMethod(s string) (distance.ThresholdMethod, error) {
	switch s {
	case "cfar":
		return distance.ThresholdCFAR, nil
	case "fixed":
		return distance.ThresholdFixed, nil
	case "recorded":
		return distance.ThresholdRecorded, nil
	}
	return 0, fmt.Errorf("unknown threshold method %q", s)
}

func parsePeakSorting(s string) (distance.PeakSortingMethod, error) {
	switch s {
	case "closest":
		return distance.SortClosest, nil
	case "strongest":
		return distance.SortStrongest, nil
	case "highest-rcs":
		return distance.SortHighestRCS, nil
	}
	return 0, fmt.Errorf("unknown peak sorting %q", s)
}
