package distance

import (
	"math"

	"github.com/scaprile/gentry/internal/a121"
)

// ApproxBaseStepLengthM is the approximate range-bin pitch of the sensor at
// step length 1.
const ApproxBaseStepLengthM = 2.5e-3

// EnvelopeFWHMM is the full width at half maximum of the transmitted pulse
// envelope per profile, in meters. Wider profiles carry more energy but blur
// range resolution.
var EnvelopeFWHMM = map[a121.Profile]float64{
	a121.Profile1: 0.04,
	a121.Profile2: 0.07,
	a121.Profile3: 0.14,
	a121.Profile4: 0.19,
	a121.Profile5: 0.32,
}

// envelopeFWHMPoints returns the envelope FWHM expressed in sweep points for
// the given profile and step length.
func envelopeFWHMPoints(profile a121.Profile, stepLength int) float64 {
	return EnvelopeFWHMM[profile] / (ApproxBaseStepLengthM * float64(stepLength))
}

// DistanceFilterEdgeMargin returns the number of points to discard at each
// sweep edge to cover the distance filter's warm-up transient.
func DistanceFilterEdgeMargin(profile a121.Profile, stepLength int) int {
	return int(envelopeFWHMPoints(profile, stepLength)) + 1
}

// distanceFilterCoeffs synthesizes a second-order Butterworth low-pass whose
// cutoff approximates a matched filter for the profile's envelope shape at
// the given step length. Returns numerator b and denominator a with a[0]=1.
func distanceFilterCoeffs(profile a121.Profile, stepLength int) (b, a [3]float64) {
	// Normalized cutoff: one envelope FWHM maps to the passband edge.
	wn := 1.0 / envelopeFWHMPoints(profile, stepLength)
	if wn >= 1.0 {
		wn = 0.999
	}

	// Bilinear transform of the analog Butterworth prototype s^2+sqrt(2)s+1.
	g := math.Tan(math.Pi * wn / 2)
	d := g*g + math.Sqrt2*g + 1

	b[0] = g * g / d
	b[1] = 2 * b[0]
	b[2] = b[0]
	a[0] = 1
	a[1] = 2 * (g*g - 1) / d
	a[2] = (g*g - math.Sqrt2*g + 1) / d
	return b, a
}

// lfilter applies the IIR filter once, forward, with zero initial state
// (direct form II transposed).
func lfilter(b, a [3]float64, x []complex128) []complex128 {
	y := make([]complex128, len(x))
	var z1, z2 complex128
	for i, xi := range x {
		yi := complex(b[0], 0)*xi + z1
		z1 = complex(b[1], 0)*xi - complex(a[1], 0)*yi + z2
		z2 = complex(b[2], 0)*xi - complex(a[2], 0)*yi
		y[i] = yi
	}
	return y
}

// filtfilt applies the filter forward and backward for zero phase response.
// Edge transients are left in place; callers exclude them via the distance
// filter edge margin.
func filtfilt(b, a [3]float64, x []complex128) []complex128 {
	forward := lfilter(b, a, x)
	reverseComplex(forward)
	backward := lfilter(b, a, forward)
	reverseComplex(backward)
	return backward
}

func reverseComplex(x []complex128) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
