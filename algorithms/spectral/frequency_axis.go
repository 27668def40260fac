package spectral

// FrequencyAxis returns the centre frequency of bins [0, size/2):
// freq[i] = i * sampleRate / size. Bins at or above size/2 mirror the lower
// half for real input and are not listed.
func FrequencyAxis(sampleRate, size int) []float64 {
	if sampleRate <= 0 || size <= 0 {
		return []float64{}
	}

	freqs := make([]float64, size/2)
	for i := range freqs {
		freqs[i] = float64(i) * float64(sampleRate) / float64(size)
	}
	return freqs
}

// BinResolution returns the spacing between adjacent bins in Hz.
func BinResolution(sampleRate, size int) float64 {
	if size <= 0 {
		return 0
	}
	return float64(sampleRate) / float64(size)
}

// BinForFrequency returns the nearest bin index for freq, clamped to [0, size/2).
func BinForFrequency(freq float64, sampleRate, size int) int {
	res := BinResolution(sampleRate, size)
	if res == 0 || size < 2 {
		return 0
	}

	bin := int(freq/res + 0.5)
	if bin < 0 {
		return 0
	}
	if bin >= size/2 {
		return size/2 - 1
	}
	return bin
}
