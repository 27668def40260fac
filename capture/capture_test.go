package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s16(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i + 1)
	}
	return out
}

func readAll(t *testing.T, src Source) ([]*Frame, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var frames []*Frame
	for {
		f, err := src.NextFrame(ctx)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func TestDecodeSamples(t *testing.T) {
	t.Run("s16le stereo downmix", func(t *testing.T) {
		got := DecodeSamples(s16(1000, 3000, -200, 200, -32768, -32768), FormatS16LE, 2)
		assert.Equal(t, []float64{2000, 0, -32768}, got)
	})

	t.Run("f32le scaled to 16-bit units", func(t *testing.T) {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(0.5))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(-1))
		assert.Equal(t, []float64{16384, -32768}, DecodeSamples(buf, FormatF32LE, 1))
	})

	t.Run("f64le", func(t *testing.T) {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(0.25))
		assert.Equal(t, []float64{8192}, DecodeSamples(buf, FormatF64LE, 1))
	})

	t.Run("incomplete trailing sample ignored", func(t *testing.T) {
		data := append(s16(7, 9), 0x01)
		assert.Equal(t, []float64{7, 9}, DecodeSamples(data, FormatS16LE, 1))
	})
}

func TestEncodeS16LE(t *testing.T) {
	data := EncodeS16LE([]float64{0, 1.4, -1.6, 40000, -40000, 32767})
	assert.Equal(t, s16(0, 1, -2, 32767, -32768, 32767), data)

	back := DecodeSamples(EncodeS16LE([]float64{-5, 12345}), FormatS16LE, 1)
	assert.Equal(t, []float64{-5, 12345}, back)
}

func TestParsers(t *testing.T) {
	f, err := ParseSampleFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatS16LE, f)

	f, err = ParseSampleFormat("F32LE")
	require.NoError(t, err)
	assert.Equal(t, FormatF32LE, f)
	assert.Equal(t, 4, f.Size())

	_, err = ParseSampleFormat("mp3")
	assert.Error(t, err)

	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OverflowBlock, p)

	p, err = ParseOverflowPolicy("drop")
	require.NoError(t, err)
	assert.Equal(t, OverflowDrop, p)

	_, err = ParseOverflowPolicy("explode")
	assert.Error(t, err)
}

func TestCaptureError(t *testing.T) {
	cause := errors.New("broken pipe")
	err := NewCaptureError("mic", ErrCodeDevice, "read failed", cause)

	assert.Equal(t, "read failed: broken pipe", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRecoverable(err))
	assert.True(t, HasCode(err, ErrCodeDevice))

	assert.True(t, IsRecoverable(NewCaptureError("mic", ErrCodeUnderflow, "late", nil)))
	assert.True(t, IsRecoverable(NewCaptureError("mic", ErrCodeOverflow, "lost", nil)))
	assert.False(t, IsRecoverable(io.EOF))
	assert.False(t, IsRecoverable(nil))
}

func TestPCMSourceFramesAndPadding(t *testing.T) {
	cfg := DefaultPCMConfig()
	cfg.FrameSize = 4

	src, err := NewPCMSource(io.NopCloser(bytes.NewReader(s16(ramp(10)...))), cfg)
	require.NoError(t, err)
	defer src.Close()

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 3)

	assert.Equal(t, []float64{1, 2, 3, 4}, frames[0].Samples)
	assert.Equal(t, []float64{5, 6, 7, 8}, frames[1].Samples)
	assert.Equal(t, []float64{9, 10, 0, 0}, frames[2].Samples)

	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Seq)
	}
	assert.False(t, frames[1].Padded)
	assert.True(t, frames[2].Padded)

	// end of stream is sticky
	_, err = src.NextFrame(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestPCMSourceExactFramesAreNotPadded(t *testing.T) {
	cfg := DefaultPCMConfig()
	cfg.FrameSize = 4
	cfg.Channels = 2

	// 8 stereo sample frames -> 2 mono frames
	src, err := NewPCMSource(io.NopCloser(bytes.NewReader(s16(ramp(16)...))), cfg)
	require.NoError(t, err)
	defer src.Close()

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 2)
	assert.Equal(t, []float64{1.5, 3.5, 5.5, 7.5}, frames[0].Samples)
	assert.False(t, frames[1].Padded)
}

func TestPCMSourceUnderflow(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	cfg := DefaultPCMConfig()
	cfg.FrameSize = 4
	cfg.ReadTimeout = 20 * time.Millisecond

	src, err := NewPCMSource(pr, cfg)
	require.NoError(t, err)

	_, err = src.NextFrame(context.Background())
	require.Error(t, err)
	assert.True(t, IsRecoverable(err))
	assert.True(t, HasCode(err, ErrCodeUnderflow))

	// the source keeps working after an underflow
	_, err = pw.Write(s16(1, 2, 3, 4))
	require.NoError(t, err)

	var f *Frame
	for range 100 {
		f, err = src.NextFrame(context.Background())
		if !IsRecoverable(err) {
			break
		}
	}
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, f.Samples)

	require.NoError(t, src.Close())
	_, err = src.NextFrame(context.Background())
	assert.True(t, HasCode(err, ErrCodeClosed))
}

func TestPCMSourceContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	src, err := NewPCMSource(pr, DefaultPCMConfig())
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = src.NextFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPCMSourceOverflowDrop(t *testing.T) {
	pr, pw := io.Pipe()

	cfg := DefaultPCMConfig()
	cfg.FrameSize = 4
	cfg.BufferFrames = 2
	cfg.Overflow = OverflowDrop

	src, err := NewPCMSource(pr, cfg)
	require.NoError(t, err)
	defer src.Close()

	// nobody consumes while 10 frames arrive
	_, err = pw.Write(s16(ramp(40)...))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return src.Dropped() == 8 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, pw.Close())

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 2)
	assert.Equal(t, uint64(8), frames[0].Seq)
	assert.Equal(t, uint64(9), frames[1].Seq)
	assert.Equal(t, []float64{37, 38, 39, 40}, frames[1].Samples)
}

func TestPCMSourceOverflowReport(t *testing.T) {
	pr, pw := io.Pipe()

	cfg := DefaultPCMConfig()
	cfg.FrameSize = 4
	cfg.BufferFrames = 1
	cfg.Overflow = OverflowReport

	src, err := NewPCMSource(pr, cfg)
	require.NoError(t, err)
	defer src.Close()

	_, err = pw.Write(s16(ramp(12)...))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return src.Dropped() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, pw.Close())

	_, err = src.NextFrame(context.Background())
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeOverflow))
	assert.True(t, IsRecoverable(err))

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(2), frames[0].Seq)
}

func TestPCMSourceBlockKeepsEveryFrame(t *testing.T) {
	pr, pw := io.Pipe()

	cfg := DefaultPCMConfig()
	cfg.FrameSize = 4
	cfg.BufferFrames = 1

	src, err := NewPCMSource(pr, cfg)
	require.NoError(t, err)
	defer src.Close()

	go func() {
		pw.Write(s16(ramp(40)...))
		pw.Close()
	}()

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 10)
	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Seq)
		assert.Equal(t, float64(4*i+1), f.Samples[0])
	}
	assert.Zero(t, src.Dropped())
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }
func (r failingReader) Close() error             { return nil }

func TestPCMSourceReadFailure(t *testing.T) {
	src, err := NewPCMSource(failingReader{err: errors.New("device unplugged")}, DefaultPCMConfig())
	require.NoError(t, err)
	defer src.Close()

	_, err = src.NextFrame(context.Background())
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeDevice))
	assert.False(t, IsRecoverable(err))
}

func TestPCMSourceResamples(t *testing.T) {
	const inRate, outRate = 22050, 44100

	in := make([]float64, inRate)
	for i := range in {
		in[i] = 8000 * math.Sin(2*math.Pi*1000*float64(i)/inRate)
	}

	cfg := DefaultPCMConfig()
	cfg.InputRate = inRate
	cfg.SampleRate = outRate
	cfg.FrameSize = 1024

	src, err := NewPCMSource(io.NopCloser(bytes.NewReader(EncodeS16LE(in))), cfg)
	require.NoError(t, err)
	defer src.Close()

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)

	total := len(frames) * cfg.FrameSize
	assert.Greater(t, total, outRate*3/4)
	assert.LessOrEqual(t, total, outRate+cfg.FrameSize)
	assert.Equal(t, outRate, src.Config().SampleRate)
}

func TestPCMConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *PCMConfig)
	}{
		{"zero rate", func(c *PCMConfig) { c.SampleRate = 0 }},
		{"negative input rate", func(c *PCMConfig) { c.InputRate = -1 }},
		{"tiny frame", func(c *PCMConfig) { c.FrameSize = 1 }},
		{"no channels", func(c *PCMConfig) { c.Channels = 0 }},
		{"too many channels", func(c *PCMConfig) { c.Channels = 9 }},
		{"bad format", func(c *PCMConfig) { c.Format = "u8" }},
		{"bad overflow", func(c *PCMConfig) { c.Overflow = "spill" }},
		{"negative timeout", func(c *PCMConfig) { c.ReadTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPCMConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.True(t, HasCode(err, ErrCodeInvalidInput), "got %v", err)
		})
	}
	assert.NoError(t, DefaultPCMConfig().Validate())
}

func TestToneSource(t *testing.T) {
	cfg := &ToneConfig{
		SampleRate: 8000,
		FrameSize:  64,
		Tones:      []Tone{{FrequencyHz: 440, Amplitude: 1000}, {FrequencyHz: 1250, Amplitude: 300, Phase: 0.5}},
		Frames:     3,
	}
	src, err := NewToneSource(cfg)
	require.NoError(t, err)

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, frames, 3)

	// phase is continuous across frame boundaries
	for k, f := range frames {
		require.Len(t, f.Samples, 64)
		for i, v := range f.Samples {
			n := float64(k*64 + i)
			want := 1000*math.Sin(2*math.Pi*440*n/8000) + 300*math.Sin(2*math.Pi*1250*n/8000+0.5)
			assert.InDelta(t, want, v, 1e-6)
		}
	}

	require.NoError(t, src.Close())
	_, err = src.NextFrame(context.Background())
	assert.True(t, HasCode(err, ErrCodeClosed))
}

func TestToneSourceNoiseIsSeeded(t *testing.T) {
	cfg := &ToneConfig{SampleRate: 8000, FrameSize: 32, NoiseAmplitude: 50, Seed: 7}

	a, err := NewToneSource(cfg)
	require.NoError(t, err)
	b, err := NewToneSource(cfg)
	require.NoError(t, err)

	fa, err := a.NextFrame(context.Background())
	require.NoError(t, err)
	fb, err := b.NextFrame(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fa.Samples, fb.Samples)
	for _, v := range fa.Samples {
		assert.LessOrEqual(t, math.Abs(v), 50.0)
	}
}

func TestToneSourceRealtimeHonoursContext(t *testing.T) {
	cfg := DefaultToneConfig()
	cfg.SampleRate = 1000
	cfg.FrameSize = 1000 // one second per frame
	cfg.Realtime = true

	src, err := NewToneSource(cfg)
	require.NoError(t, err)

	_, err = src.NextFrame(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = src.NextFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNewToneSourceValidation(t *testing.T) {
	_, err := NewToneSource(&ToneConfig{SampleRate: 0, FrameSize: 64})
	assert.True(t, HasCode(err, ErrCodeInvalidInput))

	_, err = NewToneSource(&ToneConfig{SampleRate: 8000, FrameSize: 1})
	assert.True(t, HasCode(err, ErrCodeInvalidInput))
}

func TestBuildFFmpegArgs(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		cfg := DefaultFFmpegConfig()
		cfg.Input = "alert.wav"
		cfg.MaxDuration = 1500 * time.Millisecond

		args := BuildFFmpegArgs(cfg)
		assert.NotContains(t, args, "nobuffer")
		assert.Subset(t, args, []string{"-i", "alert.wav", "-t", "1.500", "s16le", "pipe:1"})
		assert.Equal(t, "pipe:1", args[len(args)-1])

		pcm := cfg.pcmConfig()
		assert.Equal(t, OverflowBlock, pcm.Overflow)
		assert.Zero(t, pcm.ReadTimeout)
	})

	t.Run("device", func(t *testing.T) {
		cfg := DefaultFFmpegConfig()
		cfg.Input = "default"
		cfg.DeviceFormat = "pulse"
		cfg.SampleRate = 48000

		args := BuildFFmpegArgs(cfg)
		assert.Subset(t, args, []string{"-f", "pulse", "-i", "default", "-ar", "48000", "-ac", "1"})

		pcm := cfg.pcmConfig()
		assert.Equal(t, OverflowDrop, pcm.Overflow)
		assert.Equal(t, DefaultLiveReadTimeout, pcm.ReadTimeout)
	})
}

func TestCheckAvailabilityMissingBinary(t *testing.T) {
	err := CheckAvailability("/nonexistent/ffmpeg-binary")
	assert.True(t, HasCode(err, ErrCodeDevice))
}

func TestNewFFmpegSourceRequiresInput(t *testing.T) {
	_, err := NewFFmpegSource(context.Background(), DefaultFFmpegConfig())
	assert.True(t, HasCode(err, ErrCodeInvalidInput))
}

func TestFFmpegSourceSynthesizedInput(t *testing.T) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}

	cfg := DefaultFFmpegConfig()
	cfg.FFmpegPath = path
	cfg.DeviceFormat = "lavfi"
	cfg.Input = "sine=frequency=2850:sample_rate=44100:duration=0.5"
	cfg.Overflow = OverflowBlock
	cfg.ReadTimeout = 5 * time.Second

	src, err := NewFFmpegSource(context.Background(), cfg)
	require.NoError(t, err)

	frames, err := readAll(t, src)
	assert.ErrorIs(t, err, io.EOF)
	// 22050 samples -> 10 full frames plus a padded one
	assert.Len(t, frames, 11)
	assert.True(t, frames[len(frames)-1].Padded)
	assert.NoError(t, src.Close())
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 4}
	tb.Write([]byte("abc"))
	tb.Write([]byte("defg"))
	assert.Equal(t, "defg", tb.String())
}
