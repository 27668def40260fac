package detection

import (
	"fmt"
	"slices"

	"github.com/RyanBlaney/tonewatch/algorithms/spectral"
	"github.com/RyanBlaney/tonewatch/detection/config"
	"github.com/RyanBlaney/tonewatch/logging"
)

// FrameResult is everything derived from one frame.
type FrameResult struct {
	Spectrum []complex128      `json:"-"`
	Values   []float64         `json:"-"` // metric per bin, length N
	Results  []DetectionResult `json:"results"`
	Detected bool              `json:"detected"`
}

// Detections returns only the results that exceeded the threshold.
func (fr *FrameResult) Detections() []DetectionResult {
	var out []DetectionResult
	for _, r := range fr.Results {
		if r.Exceeds {
			out = append(out, r)
		}
	}
	return out
}

// Analyzer owns the sample rate, frame length, frequency axis and band bin
// sets, all fixed at construction. Analyze keeps no state between frames.
type Analyzer struct {
	sampleRate int
	frameSize  int
	channels   int
	threshold  float64
	metric     config.Metric

	fft   *spectral.FFT
	power *spectral.PowerSpectrum
	freqs []float64
	bands []BandIndex

	logger logging.Logger
}

// NewAnalyzer validates cfg and precomputes everything frame-independent.
// Errors wrap config.ErrInvalidConfig.
func NewAnalyzer(cfg *config.DetectorConfig) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metric, err := config.ParseMetric(string(cfg.Metric))
	if err != nil {
		return nil, err
	}
	backend, err := spectral.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	transform, err := spectral.NewFFT(cfg.FrameSize, backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	freqs := spectral.FrequencyAxis(cfg.SampleRate, cfg.FrameSize)
	a := &Analyzer{
		sampleRate: cfg.SampleRate,
		frameSize:  cfg.FrameSize,
		channels:   cfg.Channels,
		threshold:  cfg.Threshold,
		metric:     metric,
		fft:        transform,
		power:      spectral.NewPowerSpectrum(cfg.FloorDB),
		freqs:      freqs,
		bands:      MapBands(slices.Clone(cfg.Bands), freqs),
		logger: logging.WithFields(logging.Fields{
			"component":   "band_analyzer",
			"sample_rate": cfg.SampleRate,
			"frame_size":  cfg.FrameSize,
		}),
	}

	for _, bi := range a.bands {
		if bi.Empty() {
			a.logger.Warn("Band is narrower than the bin spacing and can never detect", logging.Fields{
				"band":        bi.Band.Label(),
				"low_hz":      bi.Band.LowHz,
				"high_hz":     bi.Band.HighHz,
				"bin_spacing": a.Resolution(),
			})
		}
	}

	a.logger.Debug("Analyzer ready", logging.Fields{
		"bands":     len(a.bands),
		"metric":    string(metric),
		"threshold": cfg.Threshold,
		"backend":   string(backend),
	})

	return a, nil
}

// Analyze runs transform, metric and band evaluation on one frame. The frame
// must hold exactly FrameSize samples; anything else panics.
func (a *Analyzer) Analyze(frame []float64) *FrameResult {
	spectrum := a.fft.Compute(frame)
	values := a.Values(spectrum)
	results := EvaluateBands(values, a.bands, a.threshold, a.freqs)

	return &FrameResult{
		Spectrum: spectrum,
		Values:   values,
		Results:  results,
		Detected: AnyExceeds(results),
	}
}

// Transform returns the forward spectrum of frame.
func (a *Analyzer) Transform(frame []float64) []complex128 {
	return a.fft.Compute(frame)
}

// Inverse returns the time-domain sequence for spectrum.
func (a *Analyzer) Inverse(spectrum []complex128) []complex128 {
	return a.fft.ComputeInverse(spectrum)
}

// Values converts a spectrum to the configured metric.
func (a *Analyzer) Values(spectrum []complex128) []float64 {
	if a.metric == config.MetricAmplitude {
		return a.power.Amplitude(spectrum)
	}
	return a.power.LogPower(spectrum)
}

// Amplitude returns |X|/(N/2) regardless of the configured metric.
func (a *Analyzer) Amplitude(spectrum []complex128) []float64 {
	return a.power.Amplitude(spectrum)
}

// LogPower returns the floored dB spectrum regardless of the configured metric.
func (a *Analyzer) LogPower(spectrum []complex128) []float64 {
	return a.power.LogPower(spectrum)
}

// FrequencyAxis returns freq_list (length N/2). Callers must not modify it.
func (a *Analyzer) FrequencyAxis() []float64 {
	return a.freqs
}

// Bands returns a copy of the precomputed band index sets.
func (a *Analyzer) Bands() []BandIndex {
	out := make([]BandIndex, len(a.bands))
	for i, bi := range a.bands {
		out[i] = BandIndex{Band: bi.Band, Bins: slices.Clone(bi.Bins)}
	}
	return out
}

// SampleRate returns R in Hz.
func (a *Analyzer) SampleRate() int {
	return a.sampleRate
}

// FrameSize returns N.
func (a *Analyzer) FrameSize() int {
	return a.frameSize
}

func (a *Analyzer) Channels() int {
	return a.channels
}

func (a *Analyzer) Threshold() float64 {
	return a.threshold
}

func (a *Analyzer) Metric() config.Metric {
	return a.metric
}

func (a *Analyzer) Backend() spectral.Backend {
	return a.fft.Backend()
}

// Resolution returns the bin spacing R/N in Hz.
func (a *Analyzer) Resolution() float64 {
	return spectral.BinResolution(a.sampleRate, a.frameSize)
}
