package distance

import "fmt"

// UnwrapTicks lifts a batch of raw wrapping tick values belonging to one
// extended frame onto a monotonic scale.
//
// If the batch spans more than half the wrap period, the low values are
// assumed to have wrapped and get one period added. If a previous maximum is
// known, all ticks are then shifted by the number of whole periods required
// to make every tick strictly greater than that maximum.
//
// Returns the unwrapped ticks and the new maximum. minimumTick is nil on the
// first call.
func UnwrapTicks(ticks []uint64, minimumTick *uint64, limit uint64) ([]uint64, uint64, error) {
	if len(ticks) == 0 {
		return nil, 0, fmt.Errorf("no ticks to unwrap")
	}
	for _, t := range ticks {
		if t >= limit {
			return nil, 0, fmt.Errorf("tick %d out of range [0, %d)", t, limit)
		}
	}

	out := make([]uint64, len(ticks))
	copy(out, ticks)

	minVal, maxVal := out[0], out[0]
	for _, t := range out[1:] {
		if t < minVal {
			minVal = t
		}
		if t > maxVal {
			maxVal = t
		}
	}

	if maxVal-minVal > limit/2 {
		for i, t := range out {
			if t < limit/2 {
				out[i] = t + limit
			}
		}
	}

	if minimumTick != nil {
		var numWraps int64
		for _, t := range out {
			n := floorDiv(int64(*minimumTick)-int64(t), int64(limit)) + 1
			if n > numWraps {
				numWraps = n
			}
		}
		if numWraps > 0 {
			for i := range out {
				out[i] += uint64(numWraps) * limit
			}
		}
	}

	newMax := out[0]
	for _, t := range out[1:] {
		if t > newMax {
			newMax = t
		}
	}
	return out, newMax, nil
}

// floorDiv is integer division rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
