package spectral

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

// DefaultFloorDB is the log-power reported for bins with (near) zero energy.
const DefaultFloorDB = -100.0

// PowerSpectrum converts a complex spectrum into normalized amplitude or
// log-power values. It is stateless apart from the configured floor.
type PowerSpectrum struct {
	floorDB  float64
	floorAmp float64
}

// NewPowerSpectrum creates a converter that clamps log power at floorDB.
func NewPowerSpectrum(floorDB float64) *PowerSpectrum {
	if math.IsNaN(floorDB) || math.IsInf(floorDB, 0) {
		floorDB = DefaultFloorDB
	}
	return &PowerSpectrum{
		floorDB:  floorDB,
		floorAmp: math.Pow(10, floorDB/20.0),
	}
}

// FloorDB returns the clamp applied by LogPower.
func (ps *PowerSpectrum) FloorDB() float64 {
	return ps.floorDB
}

// Amplitude returns |X[k]| / (N/2) for every bin, so a full-scale sinusoid of
// amplitude A that lands on a bin reads A there.
func (ps *PowerSpectrum) Amplitude(spectrum []complex128) []float64 {
	if len(spectrum) == 0 {
		return []float64{}
	}

	amplitude := make([]float64, len(spectrum))
	for i, c := range spectrum {
		amplitude[i] = cmplx.Abs(c)
	}

	half := float64(len(spectrum) / 2)
	if half > 0 {
		floats.Scale(1/half, amplitude)
	}
	return amplitude
}

// LogPower returns 20·log10(amplitude) per bin. Bins below the floor
// (including exact zeros such as a silent DC bin) report the floor instead of
// -Inf or NaN.
func (ps *PowerSpectrum) LogPower(spectrum []complex128) []float64 {
	return ps.ToDecibels(ps.Amplitude(spectrum))
}

// ToDecibels converts an amplitude sequence to dB with the floor clamp.
func (ps *PowerSpectrum) ToDecibels(amplitude []float64) []float64 {
	if len(amplitude) == 0 {
		return []float64{}
	}

	logPower := make([]float64, len(amplitude))
	for i, amp := range amplitude {
		if !(amp > ps.floorAmp) {
			logPower[i] = ps.floorDB
			continue
		}
		logPower[i] = 20 * math.Log10(amp)
	}
	return logPower
}
