package spectral

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmplitudeNormalization(t *testing.T) {
	ps := NewPowerSpectrum(DefaultFloorDB)

	spectrum := []complex128{8, 3 + 4i, 0, 3 - 4i}
	amp := ps.Amplitude(spectrum)

	require.Len(t, amp, 4)
	assert.InDelta(t, 4, amp[0], 1e-12)
	assert.InDelta(t, 2.5, amp[1], 1e-12)
	assert.InDelta(t, 0, amp[2], 1e-12)

	assert.Empty(t, ps.Amplitude(nil))
}

func TestLogPowerFloorsZeroBins(t *testing.T) {
	ps := NewPowerSpectrum(-80)
	assert.Equal(t, -80.0, ps.FloorDB())

	spectrum := []complex128{0, 2000, 0, 2000}
	logPower := ps.LogPower(spectrum)

	require.Len(t, logPower, 4)
	for _, v := range logPower {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
	assert.Equal(t, -80.0, logPower[0])
	assert.InDelta(t, 60, logPower[1], 1e-9) // 2000/2 = 1000 -> 60 dB
}

func TestToDecibelsHandlesNaN(t *testing.T) {
	ps := NewPowerSpectrum(-60)
	db := ps.ToDecibels([]float64{math.NaN(), 1, 0.1})
	assert.Equal(t, []float64{-60, 0, -20}, roundSlice(db))
}

func TestNewPowerSpectrumRejectsNonFiniteFloor(t *testing.T) {
	assert.Equal(t, DefaultFloorDB, NewPowerSpectrum(math.Inf(-1)).FloorDB())
	assert.Equal(t, DefaultFloorDB, NewPowerSpectrum(math.NaN()).FloorDB())
}

func TestFrequencyAxis(t *testing.T) {
	freqs := FrequencyAxis(44100, 2048)
	require.Len(t, freqs, 1024)
	assert.Equal(t, 0.0, freqs[0])
	assert.InDelta(t, 21.533203125, freqs[1], 1e-12)
	assert.InDelta(t, 22028.466796875, freqs[1023], 1e-9)

	assert.Empty(t, FrequencyAxis(0, 2048))
	assert.InDelta(t, 21.533203125, BinResolution(44100, 2048), 1e-12)
}

func TestBinForFrequency(t *testing.T) {
	assert.Equal(t, 132, BinForFrequency(2850, 44100, 2048))
	assert.Equal(t, 0, BinForFrequency(-5, 44100, 2048))
	assert.Equal(t, 1023, BinForFrequency(30000, 44100, 2048))
}

func roundSlice(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = math.Round(v*1e9) / 1e9
	}
	return out
}
