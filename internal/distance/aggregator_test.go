package distance

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/scaprile/gentry/internal/a121"
)

func TestSortPeaks(t *testing.T) {
	tests := []struct {
		name      string
		method    PeakSortingMethod
		wantDists []float64
		wantAmps  []float64
	}{
		{
			name:      "closest",
			method:    SortClosest,
			wantDists: []float64{0.5, 1, 2},
			wantAmps:  []float64{1, 5, 5},
		},
		{
			// Equal amplitudes tie-break toward the nearer peak.
			name:      "strongest",
			method:    SortStrongest,
			wantDists: []float64{1, 2, 0.5},
			wantAmps:  []float64{5, 5, 1},
		},
		{
			// The small nearby reflector carries the highest RCS score here,
			// and the equal-RCS pair tie-breaks toward the nearer peak.
			name:      "highest rcs",
			method:    SortHighestRCS,
			wantDists: []float64{0.5, 1, 2},
			wantAmps:  []float64{1, 5, 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			distances := []float64{1, 2, 0.5}
			amplitudes := []float64{5, 5, 1}
			rcs := []float64{3, 3, 7}
			sortPeaks(distances, amplitudes, rcs, tt.method)

			if diff := cmp.Diff(tt.wantDists, distances); diff != "" {
				t.Errorf("distances mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantAmps, amplitudes); diff != "" {
				t.Errorf("amplitudes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSortPeaksDeterministic(t *testing.T) {
	for run := 0; run < 10; run++ {
		distances := []float64{1, 2, 0.5, 3}
		amplitudes := []float64{5, 5, 5, 5}
		rcs := []float64{2, 2, 2, 2}
		sortPeaks(distances, amplitudes, rcs, SortStrongest)
		want := []float64{0.5, 1, 2, 3}
		if diff := cmp.Diff(want, distances); diff != "" {
			t.Fatalf("run %d: all-tie ordering not deterministic (-want +got):\n%s", run, diff)
		}

		sortPeaks(distances, amplitudes, rcs, SortHighestRCS)
		if diff := cmp.Diff(want, distances); diff != "" {
			t.Fatalf("run %d: equal-rcs ordering not deterministic (-want +got):\n%s", run, diff)
		}
	}
}

func TestMergePeaks(t *testing.T) {
	// The first two peaks sit within 5 mm and collapse into their mean; the
	// third stays alone.
	distances := []float64{1.002, 1.000, 1.100}
	amplitudes := []float64{10, 20, 5}
	rcs := []float64{1, 3, 9}

	d, a, r := mergePeaks(0.005, distances, amplitudes, rcs)
	wantD := []float64{1.001, 1.100}
	wantA := []float64{15, 5}
	wantR := []float64{2, 9}
	if diff := cmp.Diff(wantD, d, cmp.Comparer(floatNear)); diff != "" {
		t.Errorf("distances mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantA, a, cmp.Comparer(floatNear)); diff != "" {
		t.Errorf("amplitudes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantR, r, cmp.Comparer(floatNear)); diff != "" {
		t.Errorf("rcs mismatch (-want +got):\n%s", diff)
	}
}

func TestMergePeaksChains(t *testing.T) {
	// Consecutive gaps of 4 mm chain into one cluster even though the ends are
	// 8 mm apart.
	d, a, r := mergePeaks(0.005,
		[]float64{1.000, 1.004, 1.008},
		[]float64{3, 6, 9},
		[]float64{0, 0, 0})
	if len(d) != 1 {
		t.Fatalf("got %d peaks (%v), want the chain merged into 1", len(d), d)
	}
	if math.Abs(d[0]-1.004) > 1e-12 || math.Abs(a[0]-6) > 1e-12 || math.Abs(r[0]) > 1e-12 {
		t.Errorf("merged peak = (%v, %v, %v), want (1.004, 6, 0)", d[0], a[0], r[0])
	}
}

func floatNear(x, y float64) bool { return math.Abs(x-y) < 1e-9 }

func TestCalcProcessingGain(t *testing.T) {
	// Profile 3 at step length 4 spans 30 points across twice the envelope
	// FWHM: the triangular pulse energy is 2 * sum((i/14)^2, i=0..14).
	want := 2 * 1015.0 / 196.0
	if got := CalcProcessingGain(a121.Profile3, 4); math.Abs(got-want) > 1e-12 {
		t.Errorf("CalcProcessingGain(P3, 4) = %v, want %v", got, want)
	}
}

func TestRCSOfPeaksRadarEquation(t *testing.T) {
	session, spec := farRangeSession(t)
	spec.Context.BgNoiseStd = []float64{2}
	p, err := NewProcessor(session, spec)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	// Identical echoes at 1 m and 2 m differ by the R^4 term only:
	// 40*log10(2) dB in favor of the farther one.
	rcs := rcsOfPeaks(p, []float64{1, 2}, []float64{100, 100})
	wantDelta := 40 * math.Log10(2)
	if got := rcs[1] - rcs[0]; math.Abs(got-wantDelta) > 1e-9 {
		t.Errorf("rcs delta over doubled distance = %v dB, want %v dB", got, wantDelta)
	}

	// Doubling the amplitude at a fixed distance adds 20*log10(2) dB.
	rcs = rcsOfPeaks(p, []float64{1.5, 1.5}, []float64{100, 200})
	wantDelta = 20 * math.Log10(2)
	if got := rcs[1] - rcs[0]; math.Abs(got-wantDelta) > 1e-9 {
		t.Errorf("rcs delta over doubled amplitude = %v dB, want %v dB", got, wantDelta)
	}
}
