package configs

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/tonewatch/algorithms/spectral"
	"github.com/RyanBlaney/tonewatch/capture"
	"github.com/RyanBlaney/tonewatch/detection/config"
	"github.com/RyanBlaney/tonewatch/display"
	"github.com/RyanBlaney/tonewatch/logging"
	"github.com/RyanBlaney/tonewatch/pipeline"
)

// Config represents the application configuration
type Config struct {
	// Application settings
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
}

// AudioConfig describes the frames fed to the analyzer and the raw input
// they are decoded from.
type AudioConfig struct {
	SampleRate  int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	FrameSize   int    `mapstructure:"frame_size" yaml:"frame_size"`
	Channels    int    `mapstructure:"channels" yaml:"channels"`
	InputFormat string `mapstructure:"input_format" yaml:"input_format"`
	InputRate   int    `mapstructure:"input_rate" yaml:"input_rate"` // 0 = sample_rate
}

// DetectorConfig contains band detection settings
type DetectorConfig struct {
	Metric    string        `mapstructure:"metric" yaml:"metric"`
	Threshold float64       `mapstructure:"threshold" yaml:"threshold"`
	FloorDB   float64       `mapstructure:"floor_db" yaml:"floor_db"`
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	Bands     []config.Band `mapstructure:"bands" yaml:"bands"`
}

// CaptureConfig contains acquisition settings
type CaptureConfig struct {
	FFmpegPath   string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	DeviceFormat string        `mapstructure:"device_format" yaml:"device_format"`
	Device       string        `mapstructure:"device" yaml:"device"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"` // 0 = per-mode default
	BufferFrames int           `mapstructure:"buffer_frames" yaml:"buffer_frames"`
	Overflow     string        `mapstructure:"overflow" yaml:"overflow"` // empty = per-mode default
}

// DisplayConfig contains output settings
type DisplayConfig struct {
	Mode           string  `mapstructure:"mode" yaml:"mode"`
	TimeClamp      float64 `mapstructure:"time_clamp" yaml:"time_clamp"`
	AmplitudeClamp float64 `mapstructure:"amplitude_clamp" yaml:"amplitude_clamp"`
	Width          int     `mapstructure:"width" yaml:"width"`
	SpectrumBins   int     `mapstructure:"spectrum_bins" yaml:"spectrum_bins"`
	DetectionsOnly bool    `mapstructure:"detections_only" yaml:"detections_only"`
	WebSocketAddr  string  `mapstructure:"websocket_addr" yaml:"websocket_addr"`
}

// PipelineConfig contains run control settings
type PipelineConfig struct {
	MaxConsecutiveErrors int    `mapstructure:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	MaxFrames            uint64 `mapstructure:"max_frames" yaml:"max_frames"`
}

// Display modes
const (
	DisplayConsole = "console"
	DisplayJSON    = "json"
	DisplayNone    = "none"
)

// LoadConfig loads configuration from the global viper instance
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load applies defaults to v and decodes it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	return cfg, nil
}

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config) error {
	return cfg.Validate()
}

// Validate reports the first invalid setting. Detector problems wrap
// config.ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return fmt.Errorf("log_format: %w", err)
	}

	if c.Audio.Channels < 1 || c.Audio.Channels > 8 {
		return fmt.Errorf("audio.channels must be between 1 and 8, got %d", c.Audio.Channels)
	}
	if c.Audio.InputRate < 0 {
		return fmt.Errorf("audio.input_rate cannot be negative, got %d", c.Audio.InputRate)
	}
	if _, err := capture.ParseSampleFormat(c.Audio.InputFormat); err != nil {
		return fmt.Errorf("audio.input_format: %w", err)
	}

	if err := c.DetectorConfig().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if _, err := spectral.ParseBackend(c.Detector.Backend); err != nil {
		return fmt.Errorf("detector.backend: %w: %v", config.ErrInvalidConfig, err)
	}

	if c.Capture.BufferFrames < 1 {
		return fmt.Errorf("capture.buffer_frames must be at least 1, got %d", c.Capture.BufferFrames)
	}
	if c.Capture.ReadTimeout < 0 {
		return fmt.Errorf("capture.read_timeout cannot be negative")
	}
	if _, err := capture.ParseOverflowPolicy(c.Capture.Overflow); err != nil {
		return fmt.Errorf("capture.overflow: %w", err)
	}

	switch strings.ToLower(c.Display.Mode) {
	case DisplayConsole, DisplayJSON, DisplayNone:
	default:
		return fmt.Errorf("display.mode must be one of console, json, none; got %q", c.Display.Mode)
	}
	if c.Display.TimeClamp <= 0 || c.Display.AmplitudeClamp <= 0 {
		return fmt.Errorf("display clamps must be positive")
	}
	if c.Display.Width < 8 {
		return fmt.Errorf("display.width must be at least 8, got %d", c.Display.Width)
	}
	if c.Display.SpectrumBins < 0 {
		return fmt.Errorf("display.spectrum_bins cannot be negative")
	}

	if c.Pipeline.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("pipeline.max_consecutive_errors cannot be negative")
	}
	return nil
}

// DetectorConfig converts to the analyzer configuration.
func (c *Config) DetectorConfig() *config.DetectorConfig {
	return &config.DetectorConfig{
		SampleRate: c.Audio.SampleRate,
		FrameSize:  c.Audio.FrameSize,
		Channels:   c.Audio.Channels,
		Bands:      append([]config.Band(nil), c.Detector.Bands...),
		Threshold:  c.Detector.Threshold,
		Metric:     config.Metric(c.Detector.Metric),
		FloorDB:    c.Detector.FloorDB,
		Backend:    c.Detector.Backend,
	}
}

// PCMConfig returns raw PCM input settings for the named stream.
func (c *Config) PCMConfig(name string) *capture.PCMConfig {
	format, _ := capture.ParseSampleFormat(c.Audio.InputFormat)
	overflow, _ := capture.ParseOverflowPolicy(c.Capture.Overflow)
	return &capture.PCMConfig{
		Name:         name,
		Format:       format,
		Channels:     c.Audio.Channels,
		InputRate:    c.Audio.InputRate,
		SampleRate:   c.Audio.SampleRate,
		FrameSize:    c.Audio.FrameSize,
		BufferFrames: c.Capture.BufferFrames,
		Overflow:     overflow,
		ReadTimeout:  c.Capture.ReadTimeout,
	}
}

// FFmpegConfig returns ffmpeg capture settings. An empty input selects the
// configured device.
func (c *Config) FFmpegConfig(input string) *capture.FFmpegConfig {
	cfg := &capture.FFmpegConfig{
		FFmpegPath:   c.Capture.FFmpegPath,
		Input:        input,
		SampleRate:   c.Audio.SampleRate,
		FrameSize:    c.Audio.FrameSize,
		BufferFrames: c.Capture.BufferFrames,
		Overflow:     capture.OverflowPolicy(strings.ToLower(c.Capture.Overflow)),
		ReadTimeout:  c.Capture.ReadTimeout,
	}
	if input == "" {
		cfg.Input = c.Capture.Device
		cfg.DeviceFormat = c.Capture.DeviceFormat
	}
	return cfg
}

// ConsoleOptions returns the console sink settings.
func (c *Config) ConsoleOptions() display.ConsoleOptions {
	opts := display.DefaultConsoleOptions()
	opts.Width = c.Display.Width
	opts.TimeClamp = c.Display.TimeClamp
	opts.AmplitudeMax = c.Display.AmplitudeClamp
	opts.DetectionsOnly = c.Display.DetectionsOnly
	return opts
}

// PipelineOptions returns the run control settings.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		MaxConsecutiveErrors: c.Pipeline.MaxConsecutiveErrors,
		MaxFrames:            c.Pipeline.MaxFrames,
	}
}

// WriteYAML writes c as a YAML document that Load reads back unchanged.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}
