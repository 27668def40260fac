package detection

import (
	"math"

	"github.com/RyanBlaney/tonewatch/algorithms/common"
	"github.com/RyanBlaney/tonewatch/detection/config"
)

// DetectionResult is the outcome for one band on one frame.
type DetectionResult struct {
	Band config.Band `json:"band"`

	// Peak is the largest metric value over the band's bins, or -Inf when
	// the band maps to no bins.
	Peak    float64 `json:"peak"`
	PeakBin int     `json:"peak_bin"` // -1 when Empty
	PeakHz  float64 `json:"peak_hz"`
	Exceeds bool    `json:"exceeds"`
	Empty   bool    `json:"empty"`
}

// EvaluateBands takes the per-bin metric values of one frame and reports, per
// band and in band order, the peak value and whether it is strictly above
// threshold. Bands are independent. A band without bins reports Peak=-Inf and
// Exceeds=false; it is never an error.
//
// freqs is optional; when given, PeakHz is filled from it.
func EvaluateBands(values []float64, bands []BandIndex, threshold float64, freqs ...[]float64) []DetectionResult {
	var axis []float64
	if len(freqs) > 0 {
		axis = freqs[0]
	}

	results := make([]DetectionResult, len(bands))
	for i, bi := range bands {
		peak, bin := common.MaxAt(values, bi.Bins)

		res := DetectionResult{
			Band:    bi.Band,
			Peak:    peak,
			PeakBin: bin,
			Empty:   bin < 0,
		}
		if bin >= 0 && bin < len(axis) {
			res.PeakHz = axis[bin]
		}
		res.Exceeds = !res.Empty && !math.IsNaN(peak) && peak > threshold
		results[i] = res
	}
	return results
}

// AnyExceeds reports whether at least one result crossed its threshold.
func AnyExceeds(results []DetectionResult) bool {
	for _, r := range results {
		if r.Exceeds {
			return true
		}
	}
	return false
}
