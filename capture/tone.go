package capture

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/RyanBlaney/tonewatch/logging"
)

// Tone is one sinusoidal component. Amplitude is in 16-bit units.
type Tone struct {
	FrequencyHz float64 `json:"frequency_hz" yaml:"frequency_hz"`
	Amplitude   float64 `json:"amplitude" yaml:"amplitude"`
	Phase       float64 `json:"phase" yaml:"phase"` // radians
}

// ToneConfig holds configuration for a synthetic source
type ToneConfig struct {
	SampleRate int    `json:"sample_rate"`
	FrameSize  int    `json:"frame_size"`
	Tones      []Tone `json:"tones"`
	// NoiseAmplitude adds uniform noise in [-NoiseAmplitude, NoiseAmplitude].
	NoiseAmplitude float64 `json:"noise_amplitude"`
	Seed           uint64  `json:"seed"`
	// Frames bounds the stream; 0 means unbounded.
	Frames int `json:"frames"`
	// Realtime paces NextFrame to the frame duration.
	Realtime bool `json:"realtime"`
}

// DefaultToneConfig returns a 2850 Hz tone at amplitude 10000, which sits in
// the default monitored band.
func DefaultToneConfig() *ToneConfig {
	return &ToneConfig{
		SampleRate: 44100,
		FrameSize:  2048,
		Tones: []Tone{
			{FrequencyHz: 2850, Amplitude: 10000},
		},
	}
}

// ToneSource synthesizes frames with continuous phase across frames.
type ToneSource struct {
	cfg   ToneConfig
	rng   *rand.Rand
	start time.Time

	mu     sync.Mutex
	seq    uint64
	closed bool

	logger logging.Logger
}

// NewToneSource creates a synthetic source
func NewToneSource(cfg *ToneConfig) (*ToneSource, error) {
	if cfg == nil {
		cfg = DefaultToneConfig()
	}
	if cfg.SampleRate <= 0 {
		return nil, NewCaptureError("tone", ErrCodeInvalidInput, fmt.Sprintf("sample rate must be positive: %d", cfg.SampleRate), nil)
	}
	if cfg.FrameSize < 2 {
		return nil, NewCaptureError("tone", ErrCodeInvalidInput, fmt.Sprintf("frame size must be at least 2: %d", cfg.FrameSize), nil)
	}
	if cfg.Frames < 0 {
		return nil, NewCaptureError("tone", ErrCodeInvalidInput, "frame count cannot be negative", nil)
	}

	c := *cfg
	c.Tones = append([]Tone(nil), cfg.Tones...)

	return &ToneSource{
		cfg: c,
		rng: rand.New(rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15)),
		logger: logging.WithFields(logging.Fields{
			"component": "tone_source",
			"tones":     len(c.Tones),
		}),
	}, nil
}

// NextFrame returns the next synthesized frame
func (s *ToneSource) NextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, NewCaptureError("tone", ErrCodeClosed, "source is closed", nil)
	}
	if s.cfg.Frames > 0 && s.seq >= uint64(s.cfg.Frames) {
		s.mu.Unlock()
		return nil, io.EOF
	}
	seq := s.seq
	s.seq++
	if seq == 0 {
		s.start = time.Now()
	}
	start := s.start
	s.mu.Unlock()

	if s.cfg.Realtime {
		due := start.Add(time.Duration(seq) * FrameDuration(s.cfg.SampleRate, s.cfg.FrameSize))
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return &Frame{
		Seq:       seq,
		Samples:   s.synthesize(seq),
		Timestamp: time.Now(),
	}, nil
}

func (s *ToneSource) synthesize(seq uint64) []float64 {
	n := s.cfg.FrameSize
	rate := float64(s.cfg.SampleRate)
	offset := seq * uint64(n)
	samples := make([]float64, n)

	for _, tone := range s.cfg.Tones {
		w := 2 * math.Pi * tone.FrequencyHz / rate
		for i := range samples {
			t := float64(offset + uint64(i))
			samples[i] += tone.Amplitude * math.Sin(w*t+tone.Phase)
		}
	}

	if s.cfg.NoiseAmplitude > 0 {
		s.mu.Lock()
		for i := range samples {
			samples[i] += s.cfg.NoiseAmplitude * (2*s.rng.Float64() - 1)
		}
		s.mu.Unlock()
	}
	return samples
}

// Close stops the source
func (s *ToneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.logger.Debug("Tone source closed", logging.Fields{"frames": s.seq})
	}
	return nil
}
