package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/RyanBlaney/tonewatch/algorithms/common"
	"github.com/RyanBlaney/tonewatch/logging"
)

// FullScale converts between normalized float samples and 16-bit units.
const FullScale = 32768.0

// SampleFormat is the raw encoding of interleaved little-endian PCM input.
type SampleFormat string

const (
	FormatS16LE SampleFormat = "s16le"
	FormatF32LE SampleFormat = "f32le"
	FormatF64LE SampleFormat = "f64le"
)

// ParseSampleFormat maps a configuration string to a SampleFormat. Empty
// selects s16le.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch SampleFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatS16LE, "int16", "s16":
		return FormatS16LE, nil
	case FormatF32LE, "float32", "f32":
		return FormatF32LE, nil
	case FormatF64LE, "float64", "f64":
		return FormatF64LE, nil
	default:
		return "", fmt.Errorf("unknown sample format %q", s)
	}
}

// Size returns bytes per sample.
func (f SampleFormat) Size() int {
	switch f {
	case FormatF32LE:
		return 4
	case FormatF64LE:
		return 8
	default:
		return 2
	}
}

// PCMConfig holds configuration for a raw PCM source
type PCMConfig struct {
	Name         string         `json:"name"`
	Format       SampleFormat   `json:"format"`
	Channels     int            `json:"channels"`   // interleaved input channels
	InputRate    int            `json:"input_rate"` // 0 means SampleRate
	SampleRate   int            `json:"sample_rate"`
	FrameSize    int            `json:"frame_size"`
	BufferFrames int            `json:"buffer_frames"`
	Overflow     OverflowPolicy `json:"overflow"`
	ReadTimeout  time.Duration  `json:"read_timeout"` // 0 disables the underflow timeout
}

// DefaultPCMConfig returns 44.1 kHz mono s16le input in 2048-sample frames.
func DefaultPCMConfig() *PCMConfig {
	return &PCMConfig{
		Name:         "pcm",
		Format:       FormatS16LE,
		Channels:     1,
		SampleRate:   44100,
		FrameSize:    2048,
		BufferFrames: 8,
		Overflow:     OverflowBlock,
	}
}

// Validate checks the configuration
func (c *PCMConfig) Validate() error {
	if c.SampleRate <= 0 {
		return NewCaptureError(c.Name, ErrCodeInvalidInput, fmt.Sprintf("sample rate must be positive: %d", c.SampleRate), nil)
	}
	if c.InputRate < 0 {
		return NewCaptureError(c.Name, ErrCodeInvalidInput, fmt.Sprintf("input rate cannot be negative: %d", c.InputRate), nil)
	}
	if c.FrameSize < 2 {
		return NewCaptureError(c.Name, ErrCodeInvalidInput, fmt.Sprintf("frame size must be at least 2: %d", c.FrameSize), nil)
	}
	if c.Channels <= 0 || c.Channels > 8 {
		return NewCaptureError(c.Name, ErrCodeInvalidInput, fmt.Sprintf("channels must be between 1 and 8: %d", c.Channels), nil)
	}
	if _, err := ParseSampleFormat(string(c.Format)); err != nil {
		return NewCaptureError(c.Name, ErrCodeInvalidInput, "bad sample format", err)
	}
	if _, err := ParseOverflowPolicy(string(c.Overflow)); err != nil {
		return NewCaptureError(c.Name, ErrCodeInvalidInput, "bad overflow policy", err)
	}
	if c.ReadTimeout < 0 {
		return NewCaptureError(c.Name, ErrCodeInvalidInput, "read timeout cannot be negative", nil)
	}
	return nil
}

// FrameDuration returns how much audio one frame covers.
func FrameDuration(sampleRate, frameSize int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frameSize) * time.Second / time.Duration(sampleRate)
}

// PCMSource turns a byte stream of interleaved PCM into mono frames. A reader
// goroutine decodes, downmixes, resamples and assembles frames into a bounded
// queue drained by NextFrame.
type PCMSource struct {
	cfg       PCMConfig
	reader    io.ReadCloser
	queue     *frameQueue
	assembler *common.FrameAssembler
	resampler resampling.Resampler

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	logger logging.Logger
}

// NewPCMSource starts reading r. The source owns r and closes it on Close.
func NewPCMSource(r io.ReadCloser, cfg *PCMConfig) (*PCMSource, error) {
	if cfg == nil {
		cfg = DefaultPCMConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := *cfg
	c.Format, _ = ParseSampleFormat(string(c.Format))
	c.Overflow, _ = ParseOverflowPolicy(string(c.Overflow))
	if c.InputRate == 0 {
		c.InputRate = c.SampleRate
	}
	if c.Name == "" {
		c.Name = "pcm"
	}

	logger := logging.WithFields(logging.Fields{
		"component": "pcm_source",
		"source":    c.Name,
	})

	assembler, err := common.NewFrameAssembler(c.FrameSize)
	if err != nil {
		return nil, NewCaptureError(c.Name, ErrCodeInvalidInput, "failed to create frame assembler", err)
	}

	var resampler resampling.Resampler
	if c.InputRate != c.SampleRate {
		resampler, err = resampling.New(&resampling.Config{
			InputRate:  float64(c.InputRate),
			OutputRate: float64(c.SampleRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, NewCaptureError(c.Name, ErrCodeInvalidInput, "failed to create resampler", err)
		}
		logger.Debug("Resampling input", logging.Fields{
			"input_rate":  c.InputRate,
			"output_rate": c.SampleRate,
		})
	}

	s := &PCMSource{
		cfg:       c,
		reader:    r,
		queue:     newFrameQueue(c.Name, c.BufferFrames, c.Overflow, c.ReadTimeout, logger),
		assembler: assembler,
		resampler: resampler,
		logger:    logger,
	}

	logger.Debug("PCM source started", logging.Fields{
		"format":        string(c.Format),
		"channels":      c.Channels,
		"frame_size":    c.FrameSize,
		"buffer_frames": c.BufferFrames,
		"overflow":      string(c.Overflow),
		"read_timeout":  c.ReadTimeout.String(),
	})

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *PCMSource) run() {
	defer s.wg.Done()

	sampleFrame := s.cfg.Format.Size() * s.cfg.Channels
	// one output frame worth of input, rounded to whole sample frames
	chunkFrames := int(math.Ceil(float64(s.cfg.FrameSize) * float64(s.cfg.InputRate) / float64(s.cfg.SampleRate)))
	chunk := make([]byte, max(chunkFrames, 1)*sampleFrame)

	for {
		n, err := io.ReadFull(s.reader, chunk)
		if n > 0 {
			data := chunk[:n]
			if rem := n % sampleFrame; rem != 0 {
				s.logger.Warn("Discarding incomplete trailing sample", logging.Fields{
					"bytes": rem,
				})
				data = data[:n-rem]
			}
			if !s.consume(data) {
				s.queue.finish(NewCaptureError(s.cfg.Name, ErrCodeClosed, "source is closed", nil))
				return
			}
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if !s.flush() {
				s.queue.finish(NewCaptureError(s.cfg.Name, ErrCodeClosed, "source is closed", nil))
				return
			}
			s.logger.Debug("End of input")
			s.queue.finish(nil)
			return
		}

		select {
		case <-s.queue.done:
			s.queue.finish(NewCaptureError(s.cfg.Name, ErrCodeClosed, "source is closed", err))
			return
		default:
		}

		var ce *CaptureError
		if !errors.As(err, &ce) {
			err = NewCaptureError(s.cfg.Name, ErrCodeDevice, "read failed", err)
		}
		s.logger.Error(err, "PCM read failed")
		s.queue.finish(err)
		return
	}
}

// consume converts raw bytes to samples and pushes every completed frame.
func (s *PCMSource) consume(data []byte) bool {
	samples := DecodeSamples(data, s.cfg.Format, s.cfg.Channels)

	if s.resampler != nil {
		for i := range samples {
			samples[i] /= FullScale
		}
		out, err := s.resampler.Process(samples)
		if err != nil {
			s.logger.Error(err, "Resampling failed, dropping chunk")
			return true
		}
		for i := range out {
			out[i] *= FullScale
		}
		samples = out
	}

	for _, frame := range s.assembler.AddSamples(samples) {
		if !s.queue.push(frame, false) {
			return false
		}
	}
	return true
}

// flush emits the trailing partial frame, zero-padded.
func (s *PCMSource) flush() bool {
	pending := s.assembler.Pending()
	if pending == 0 {
		return true
	}

	s.logger.Warn("Zero-padding final partial frame", logging.Fields{
		"samples":    pending,
		"padding":    s.cfg.FrameSize - pending,
		"frame_size": s.cfg.FrameSize,
	})
	return s.queue.push(s.assembler.Flush(), true)
}

// NextFrame returns the next frame
func (s *PCMSource) NextFrame(ctx context.Context) (*Frame, error) {
	return s.queue.next(ctx)
}

// Close stops the reader goroutine and closes the underlying reader.
func (s *PCMSource) Close() error {
	s.closeOnce.Do(func() {
		s.queue.close()
		s.closeErr = s.reader.Close()
		s.wg.Wait()
		s.logger.Debug("PCM source closed", logging.Fields{
			"frames":  s.queue.seq.Load(),
			"dropped": s.queue.Dropped(),
		})
	})
	return s.closeErr
}

// Dropped returns how many frames the overflow policy discarded.
func (s *PCMSource) Dropped() uint64 {
	return s.queue.Dropped()
}

// Config returns the effective configuration
func (s *PCMSource) Config() PCMConfig {
	return s.cfg
}

// DecodeSamples converts interleaved little-endian PCM to mono samples in
// 16-bit units by averaging channels. Float input is scaled by FullScale.
// Trailing bytes that do not form a whole sample frame are ignored.
func DecodeSamples(data []byte, format SampleFormat, channels int) []float64 {
	if channels < 1 {
		channels = 1
	}
	size := format.Size()
	frames := len(data) / (size * channels)
	out := make([]float64, frames)

	for i := range frames {
		sum := 0.0
		for ch := range channels {
			off := (i*channels + ch) * size
			sum += decodeSample(data[off:off+size], format)
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func decodeSample(b []byte, format SampleFormat) float64 {
	switch format {
	case FormatF32LE:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) * FullScale
	case FormatF64LE:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)) * FullScale
	default:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	}
}

// EncodeS16LE converts samples in 16-bit units to s16le bytes, clipping to
// the int16 range.
func EncodeS16LE(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		v = math.Round(common.Clamp(v, math.MinInt16, math.MaxInt16))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
