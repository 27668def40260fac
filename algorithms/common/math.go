package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// MaxAt returns the largest data[i] over the given indices and the index that
// holds it. With no indices it returns (-Inf, -1), the identity for max.
// Indices outside data are ignored.
func MaxAt(data []float64, indices []int) (float64, int) {
	best, bestIdx := math.Inf(-1), -1
	for _, i := range indices {
		if i < 0 || i >= len(data) {
			continue
		}
		if bestIdx == -1 || data[i] > best {
			best, bestIdx = data[i], i
		}
	}
	return best, bestIdx
}

// PeakDownsample reduces data to width buckets, keeping the maximum of each
// bucket. Used for rendering long spectra in a fixed number of columns.
func PeakDownsample(data []float64, width int) []float64 {
	if width <= 0 || len(data) == 0 {
		return []float64{}
	}
	if len(data) <= width {
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}

	out := make([]float64, width)
	for b := range width {
		start := b * len(data) / width
		end := (b + 1) * len(data) / width
		if end <= start {
			end = start + 1
		}
		out[b] = floats.Max(data[start:end])
	}
	return out
}

// PeakAbs returns the largest absolute sample value.
func PeakAbs(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return math.Max(math.Abs(floats.Max(data)), math.Abs(floats.Min(data)))
}

// Clamp constrains a value to a range
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// IsPowerOfTwo checks if n is a power of 2
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
