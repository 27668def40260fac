// Package display renders per-frame analysis results to terminals, JSON
// streams and websocket dashboards.
package display

import (
	"math"
	"time"

	"github.com/RyanBlaney/tonewatch/algorithms/common"
	"github.com/RyanBlaney/tonewatch/capture"
	"github.com/RyanBlaney/tonewatch/detection"
	"github.com/RyanBlaney/tonewatch/detection/config"
)

// Report is what a sink receives for one frame. Frequencies and Values cover
// bins 1..N/2-1; the DC bin is left out of presentation.
type Report struct {
	Seq        uint64
	Timestamp  time.Time
	SampleRate int
	Padded     bool

	Samples     []float64
	Frequencies []float64
	Values      []float64

	Metric    config.Metric
	Threshold float64
	Results   []detection.DetectionResult
	Detected  bool
}

// NewReport assembles a Report from a frame and its analysis.
func NewReport(frame *capture.Frame, analyzer *detection.Analyzer, result *detection.FrameResult) *Report {
	freqs := analyzer.FrequencyAxis()
	half := len(freqs)

	r := &Report{
		Seq:        frame.Seq,
		Timestamp:  frame.Timestamp,
		SampleRate: analyzer.SampleRate(),
		Padded:     frame.Padded,
		Samples:    frame.Samples,
		Metric:     analyzer.Metric(),
		Threshold:  analyzer.Threshold(),
		Results:    result.Results,
		Detected:   result.Detected,
	}
	if half > 1 {
		r.Frequencies = freqs[1:half]
		r.Values = result.Values[1:half]
	}
	return r
}

// Detections returns the exceeding results only.
func (r *Report) Detections() []detection.DetectionResult {
	var out []detection.DetectionResult
	for _, res := range r.Results {
		if res.Exceeds {
			out = append(out, res)
		}
	}
	return out
}

// BandPayload is the wire form of one band result. Peak is null for a band
// with no bins.
type BandPayload struct {
	Name    string   `json:"name"`
	LowHz   float64  `json:"low_hz"`
	HighHz  float64  `json:"high_hz"`
	Peak    *float64 `json:"peak"`
	PeakHz  *float64 `json:"peak_hz,omitempty"`
	Exceeds bool     `json:"exceeds"`
	Empty   bool     `json:"empty,omitempty"`
}

// Payload is the wire form of a Report.
type Payload struct {
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	Metric    config.Metric `json:"metric"`
	Unit      string        `json:"unit,omitempty"`
	Threshold float64       `json:"threshold"`
	Detected  bool          `json:"detected"`
	Padded    bool          `json:"padded,omitempty"`
	TimePeak  float64       `json:"time_peak"`
	Bands     []BandPayload `json:"bands"`

	// Spectrum is the metric reduced to a fixed number of points by keeping
	// the peak of each group.
	Spectrum   []float64 `json:"spectrum,omitempty"`
	SpectrumHz float64   `json:"spectrum_hz_per_point,omitempty"`
}

// Payload converts r for JSON output. spectrumBins > 0 includes a
// downsampled spectrum.
func (r *Report) Payload(spectrumBins int) *Payload {
	p := &Payload{
		Seq:       r.Seq,
		Timestamp: r.Timestamp,
		Metric:    r.Metric,
		Unit:      r.Metric.Unit(),
		Threshold: r.Threshold,
		Detected:  r.Detected,
		Padded:    r.Padded,
		TimePeak:  common.PeakAbs(r.Samples),
		Bands:     make([]BandPayload, len(r.Results)),
	}

	for i, res := range r.Results {
		bp := BandPayload{
			Name:    res.Band.Label(),
			LowHz:   res.Band.LowHz,
			HighHz:  res.Band.HighHz,
			Exceeds: res.Exceeds,
			Empty:   res.Empty,
		}
		if !res.Empty && !math.IsInf(res.Peak, 0) && !math.IsNaN(res.Peak) {
			peak, hz := res.Peak, res.PeakHz
			bp.Peak = &peak
			bp.PeakHz = &hz
		}
		p.Bands[i] = bp
	}

	if spectrumBins > 0 && len(r.Values) > 0 {
		p.Spectrum = common.PeakDownsample(r.Values, spectrumBins)
		if len(r.Frequencies) > 1 {
			perPoint := float64(len(r.Values)) / float64(len(p.Spectrum))
			p.SpectrumHz = perPoint * (r.Frequencies[1] - r.Frequencies[0])
		}
	}
	return p
}
