package terrain

import "math"

// interpolateBilinear returns the bilinear interpolation at (dx, dy) of the
// samples at (x0, y0), (x1, y0), (x0, y1), and (x1, y1), in that order. Voids
// with a non-zero weight make the result NaN.
func interpolateBilinear(samples [4]int16, dx, dy float64) float64 {
	var values [4]float64
	for i, sample := range samples {
		if sample == NoData {
			values[i] = math.NaN()
		} else {
			values[i] = float64(sample)
		}
	}
	top := lerp(values[0], values[1], dx)
	bottom := lerp(values[2], values[3], dx)
	return lerp(top, bottom, dy)
}

// lerp interpolates linearly between a and b. The result lies between a and b
// and does not depend on an operand whose weight is zero.
func lerp(a, b, t float64) float64 {
	switch t {
	case 0:
		return a
	case 1:
		return b
	default:
		return a + (b-a)*t
	}
}
