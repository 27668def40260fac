package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid detector configuration")

// Metric selects the per-bin value that bands are evaluated against.
type Metric string

const (
	MetricAmplitude Metric = "amplitude" // |X|/(N/2)
	MetricLogPower  Metric = "log_power" // 20·log10(amplitude), floored
)

// ParseMetric maps a configuration string to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricLogPower, "logpower", "db":
		return MetricLogPower, nil
	case MetricAmplitude, "amp":
		return MetricAmplitude, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, s)
	}
}

// Unit returns the display unit of the metric.
func (m Metric) Unit() string {
	if m == MetricAmplitude {
		return ""
	}
	return "dB"
}

// Band is a monitored frequency interval, open on both ends: (LowHz, HighHz).
type Band struct {
	Name   string  `json:"name" yaml:"name" mapstructure:"name"`
	LowHz  float64 `json:"low_hz" yaml:"low_hz" mapstructure:"low_hz"`
	HighHz float64 `json:"high_hz" yaml:"high_hz" mapstructure:"high_hz"`
}

// Label returns the band name, or its bounds when unnamed.
func (b Band) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("%g-%gHz", b.LowHz, b.HighHz)
}

// Validate checks 0 < LowHz < HighHz <= nyquist.
func (b Band) Validate(nyquist float64) error {
	if math.IsNaN(b.LowHz) || math.IsNaN(b.HighHz) {
		return fmt.Errorf("%w: band %s has NaN bounds", ErrInvalidConfig, b.Label())
	}
	if b.LowHz <= 0 {
		return fmt.Errorf("%w: band %s low bound must be > 0 Hz, got %g", ErrInvalidConfig, b.Label(), b.LowHz)
	}
	if b.LowHz >= b.HighHz {
		return fmt.Errorf("%w: band %s low bound %g must be below high bound %g", ErrInvalidConfig, b.Label(), b.LowHz, b.HighHz)
	}
	if b.HighHz > nyquist {
		return fmt.Errorf("%w: band %s high bound %g exceeds Nyquist limit %g", ErrInvalidConfig, b.Label(), b.HighHz, nyquist)
	}
	return nil
}

// DetectorConfig is everything the analyzer needs. It is read once at
// construction; later changes to the struct do not affect a built analyzer.
type DetectorConfig struct {
	SampleRate int     `json:"sample_rate" yaml:"sample_rate"`
	FrameSize  int     `json:"frame_size" yaml:"frame_size"`
	Channels   int     `json:"channels" yaml:"channels"` // informational, frames are mono
	Bands      []Band  `json:"bands" yaml:"bands"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
	Metric     Metric  `json:"metric" yaml:"metric"`
	FloorDB    float64 `json:"floor_db" yaml:"floor_db"`
	Backend    string  `json:"backend" yaml:"backend"`
}

// DefaultDetectorConfig mirrors the reference setup: 44.1 kHz mono, 2048-sample
// frames, log power against 70 dB, one band around 2.85 kHz.
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		SampleRate: 44100,
		FrameSize:  2048,
		Channels:   1,
		Bands: []Band{
			{Name: "tone", LowHz: 2750, HighHz: 2950},
		},
		Threshold: 70,
		Metric:    MetricLogPower,
		FloorDB:   -100,
		Backend:   "godsp",
	}
}

// Nyquist returns SampleRate/2.
func (c *DetectorConfig) Nyquist() float64 {
	return float64(c.SampleRate) / 2
}

// Validate reports the first configuration problem found.
func (c *DetectorConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.FrameSize < 2 {
		return fmt.Errorf("%w: frame size must be at least 2, got %d", ErrInvalidConfig, c.FrameSize)
	}
	if c.Channels < 0 {
		return fmt.Errorf("%w: channels cannot be negative, got %d", ErrInvalidConfig, c.Channels)
	}
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite", ErrInvalidConfig)
	}
	if math.IsNaN(c.FloorDB) || math.IsInf(c.FloorDB, 0) {
		return fmt.Errorf("%w: floor must be finite", ErrInvalidConfig)
	}
	if _, err := ParseMetric(string(c.Metric)); err != nil {
		return err
	}

	nyquist := c.Nyquist()
	for i, band := range c.Bands {
		if err := band.Validate(nyquist); err != nil {
			return fmt.Errorf("bands[%d]: %w", i, err)
		}
	}
	return nil
}
