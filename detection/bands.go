package detection

import (
	"github.com/RyanBlaney/tonewatch/detection/config"
)

// BandIndex is a band together with the bins whose centre frequency lies
// strictly inside it. It is computed once per analyzer.
type BandIndex struct {
	Band config.Band `json:"band"`
	Bins []int       `json:"bins"`
}

// Empty reports whether no bin falls inside the band, which happens when the
// band is narrower than the bin spacing.
func (bi BandIndex) Empty() bool {
	return len(bi.Bins) == 0
}

// MapBand returns {i : low < freqs[i] < high} in ascending order. freqs is
// the frequency axis from spectral.FrequencyAxis, so only bins below N/2 are
// considered and bin 0 is never selected for a valid band.
func MapBand(band config.Band, freqs []float64) []int {
	bins := []int{}
	for i, f := range freqs {
		if f > band.LowHz && f < band.HighHz {
			bins = append(bins, i)
		}
	}
	return bins
}

// MapBands maps every band in order.
func MapBands(bands []config.Band, freqs []float64) []BandIndex {
	out := make([]BandIndex, len(bands))
	for i, band := range bands {
		out[i] = BandIndex{Band: band, Bins: MapBand(band, freqs)}
	}
	return out
}
