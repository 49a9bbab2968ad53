// Command sweep-plot renders the filtered sweep and threshold of each planned
// segment to a PNG, using the simulated sensor. Useful for eyeballing how the
// planner tiles a measurement range and where the threshold sits relative to
// a target echo.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/scaprile/gentry/internal/a121"
	"github.com/scaprile/gentry/internal/distance"
)

func main() {
	var (
		startM     = flag.Float64("start", 0.25, "measurement start in meters")
		endM       = flag.Float64("end", 3.0, "measurement end in meters")
		targetDist = flag.Float64("target-dist", 1.5, "simulated target distance in meters")
		targetAmp  = flag.Float64("target-amp", 300, "simulated target amplitude")
		seed       = flag.Int64("seed", 1, "simulation random seed")
		output     = flag.String("o", "sweep.png", "output PNG path")
	)
	flag.Parse()

	config := distance.DefaultDetectorConfig()
	config.StartM = *startM
	config.EndM = *endM

	client := a121.NewSimClient(*seed)
	client.Targets = []a121.SimTarget{{DistanceM: *targetDist, Amplitude: *targetAmp}}

	detector, err := distance.NewDetector(client, 1, config, nil)
	if err != nil {
		log.Fatalf("create detector: %v", err)
	}
	if err := detector.Start(nil, false); err != nil {
		log.Fatalf("start: %v", err)
	}
	result, err := detector.GetNext()
	if err != nil {
		log.Fatalf("get frame: %v", err)
	}
	if err := detector.Stop(); err != nil {
		log.Fatalf("stop: %v", err)
	}

	if err := renderSweeps(detector, result, *output); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s", *output)
	for i := range result.Distances {
		log.Printf("estimate: %.3f m (amplitude %.0f)", result.Distances[i], result.Amplitudes[i])
	}
}

func renderSweeps(detector *distance.Detector, result *distance.DetectorResult, path string) error {
	p := plot.New()
	p.Title.Text = "Filtered sweep and threshold"
	p.X.Label.Text = "distance (m)"
	p.Y.Label.Text = "amplitude"

	specs := detector.Specs()
	sessionConfig := detector.SessionConfig()

	for i, pr := range result.ProcessorResults {
		axis, err := segmentAxis(sessionConfig, specs[i])
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}

		sweepLine, err := plotter.NewLine(xys(axis, pr.FilteredSweep))
		if err != nil {
			return err
		}
		sweepLine.Width = vg.Points(1)
		sweepLine.Color = plotter.DefaultLineStyle.Color
		p.Add(sweepLine)
		if i == 0 {
			p.Legend.Add("sweep", sweepLine)
		}

		thresholdLine, err := plotter.NewLine(xys(axis, pr.Threshold))
		if err != nil {
			return err
		}
		thresholdLine.Width = vg.Points(1)
		thresholdLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(thresholdLine)
		if i == 0 {
			p.Legend.Add("threshold", thresholdLine)
		}
	}

	return p.Save(12*vg.Inch, 5*vg.Inch, path)
}

// segmentAxis returns the distance in meters of every bin of a segment's
// concatenated data subsweeps.
func segmentAxis(sessionConfig a121.SessionConfig, spec distance.ProcessorSpec) ([]float64, error) {
	sensorConfig, ok := sessionConfig.Groups[spec.GroupIndex][spec.SensorID]
	if !ok {
		return nil, fmt.Errorf("sensor %d not in group %d", spec.SensorID, spec.GroupIndex)
	}
	var axis []float64
	for _, idx := range spec.SubsweepIndexes {
		sub := sensorConfig.Subsweeps[idx]
		if sub.EnableLoopback {
			continue
		}
		for k := 0; k < sub.NumPoints; k++ {
			point := sub.StartPoint + k*sub.StepLength
			axis = append(axis, float64(point)*distance.ApproxBaseStepLengthM)
		}
	}
	return axis, nil
}

// xys pairs axis values with samples, skipping NaN threshold bins so gonum's
// line plotter does not choke on them.
func xys(axis, values []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if i >= len(axis) || math.IsNaN(v) {
			continue
		}
		pts = append(pts, plotter.XY{X: axis[i], Y: v})
	}
	return pts
}
