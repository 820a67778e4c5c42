// Package thermal turns temperature matrices into colour images and legend metadata.
package thermal

import "math"

// ColorFor maps a normalized value to the black-blue-cyan-yellow-red ramp.
// Inputs outside [0,1] saturate; NaN maps like 0.
func ColorFor(v float64) (r, g, b uint8) {
	v = clamp01(v)

	switch {
	case v < 0.25:
		return 0, 0, ramp(v)
	case v < 0.5:
		return 0, ramp(v - 0.25), 255
	case v < 0.75:
		step := ramp(v - 0.5)
		return step, 255, 255 - step
	default:
		return 255, 255 - ramp(v-0.75), 0
	}
}

// ramp scales an offset within a quarter band to 0..255, truncating.
func ramp(offset float64) uint8 {
	scaled := math.Floor(offset * 4 * 255)
	if scaled > 255 {
		return 255
	}
	if scaled < 0 {
		return 0
	}
	return uint8(scaled)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
