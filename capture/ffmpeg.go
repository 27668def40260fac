package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RyanBlaney/tonewatch/logging"
)

// DefaultLiveReadTimeout bounds how long a live device may stay silent before
// NextFrame reports an underflow.
const DefaultLiveReadTimeout = time.Second

// FFmpegConfig holds configuration for ffmpeg-backed capture
type FFmpegConfig struct {
	FFmpegPath string `json:"ffmpeg_path"` // Path to ffmpeg binary
	Input      string `json:"input"`       // file, URL or device name
	// DeviceFormat is the ffmpeg input device (alsa, pulse, avfoundation,
	// dshow). Empty means Input is a file or URL.
	DeviceFormat string         `json:"device_format"`
	SampleRate   int            `json:"sample_rate"`
	FrameSize    int            `json:"frame_size"`
	BufferFrames int            `json:"buffer_frames"`
	Overflow     OverflowPolicy `json:"overflow"`
	ReadTimeout  time.Duration  `json:"read_timeout"` // 0 selects the per-mode default
	MaxDuration  time.Duration  `json:"max_duration"` // 0 means no limit
}

// DefaultFFmpegConfig returns default ffmpeg capture configuration
func DefaultFFmpegConfig() *FFmpegConfig {
	return &FFmpegConfig{
		FFmpegPath:   "ffmpeg", // Assume in PATH
		SampleRate:   44100,
		FrameSize:    2048,
		BufferFrames: 8,
	}
}

// IsLive reports whether the input is a capture device.
func (c *FFmpegConfig) IsLive() bool {
	return c.DeviceFormat != ""
}

// pcmConfig derives the PCM source settings: live devices drop on overflow
// and time out after DefaultLiveReadTimeout, files block and never time out.
func (c *FFmpegConfig) pcmConfig() *PCMConfig {
	pcm := &PCMConfig{
		Name:         c.Input,
		Format:       FormatS16LE,
		Channels:     1,
		SampleRate:   c.SampleRate,
		FrameSize:    c.FrameSize,
		BufferFrames: c.BufferFrames,
		Overflow:     c.Overflow,
		ReadTimeout:  c.ReadTimeout,
	}
	if pcm.Overflow == "" {
		pcm.Overflow = OverflowBlock
		if c.IsLive() {
			pcm.Overflow = OverflowDrop
		}
	}
	if pcm.ReadTimeout == 0 && c.IsLive() {
		pcm.ReadTimeout = DefaultLiveReadTimeout
	}
	return pcm
}

// BuildFFmpegArgs builds the ffmpeg arguments that write s16le mono at the
// configured rate to stdout.
func BuildFFmpegArgs(cfg *FFmpegConfig) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-v", "error", // Suppress ffmpeg output
	}

	if cfg.IsLive() {
		args = append(args,
			"-fflags", "nobuffer",
			"-f", cfg.DeviceFormat,
		)
	}

	args = append(args, "-i", cfg.Input)

	if cfg.MaxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", cfg.MaxDuration.Seconds()))
	}

	args = append(args,
		"-map", "0:a:0?",
		"-vn",         // No video
		"-f", "s16le", // Output raw int16 little-endian
		"-acodec", "pcm_s16le",
		"-ac", "1", // Downmix to mono
		"-ar", strconv.Itoa(cfg.SampleRate),
		"pipe:1",
	)

	return args
}

// CheckAvailability checks that ffmpeg can be executed
func CheckAvailability(ffmpegPath string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.Command(ffmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		return NewCaptureError(ffmpegPath, ErrCodeDevice, fmt.Sprintf("ffmpeg not found at %s", ffmpegPath), err)
	}
	return nil
}

// FFmpegSource captures frames from an ffmpeg child process. Close kills the
// process and reaps it.
type FFmpegSource struct {
	*PCMSource

	proc   *processReader
	logger logging.Logger
}

// NewFFmpegSource starts ffmpeg for cfg.Input. The process is bound to ctx.
func NewFFmpegSource(ctx context.Context, cfg *FFmpegConfig) (*FFmpegSource, error) {
	if cfg == nil {
		cfg = DefaultFFmpegConfig()
	}
	if cfg.Input == "" {
		return nil, NewCaptureError("ffmpeg", ErrCodeInvalidInput, "no input given", nil)
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	pcmCfg := cfg.pcmConfig()
	if err := pcmCfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.WithFields(logging.Fields{
		"component":     "ffmpeg_source",
		"input":         cfg.Input,
		"device_format": cfg.DeviceFormat,
	})

	args := BuildFFmpegArgs(cfg)
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, cfg.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, NewCaptureError(cfg.Input, ErrCodeDevice, "failed to open ffmpeg stdout", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	logger.Debug("Running ffmpeg command", logging.Fields{
		"command": fmt.Sprintf("%s %s", cfg.FFmpegPath, strings.Join(args, " ")),
	})

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, NewCaptureError(cfg.Input, ErrCodeDevice, "failed to start ffmpeg", err)
	}

	proc := &processReader{
		input:  cfg.Input,
		live:   cfg.IsLive(),
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
	}

	pcm, err := NewPCMSource(proc, pcmCfg)
	if err != nil {
		proc.Close()
		proc.wait()
		return nil, err
	}

	logger.Info("Capture started", logging.Fields{
		"sample_rate":  pcmCfg.SampleRate,
		"frame_size":   pcmCfg.FrameSize,
		"overflow":     string(pcmCfg.Overflow),
		"read_timeout": pcmCfg.ReadTimeout.String(),
		"pid":          cmd.Process.Pid,
	})

	return &FFmpegSource{
		PCMSource: pcm,
		proc:      proc,
		logger:    logger,
	}, nil
}

// Close stops capture and waits for ffmpeg to exit.
func (s *FFmpegSource) Close() error {
	err := s.PCMSource.Close()
	if werr := s.proc.wait(); werr != nil && err == nil && !s.proc.killed() {
		err = werr
	}
	s.logger.Info("Capture stopped", logging.Fields{
		"dropped": s.Dropped(),
	})
	return err
}

// processReader reads ffmpeg's stdout and turns a failed exit into a
// CaptureError carrying the tail of stderr.
type processReader struct {
	input  string
	live   bool
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	cancel context.CancelFunc

	waitOnce sync.Once
	waitErr  error

	mu      sync.Mutex
	stopped bool
}

func (p *processReader) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if errors.Is(err, io.EOF) {
		if werr := p.wait(); werr != nil && !p.killed() {
			code := ErrCodeDecoding
			if p.live {
				code = ErrCodeDevice
			}
			msg := "ffmpeg exited with error"
			if tail := strings.TrimSpace(p.stderr.String()); tail != "" {
				msg += ": " + tail
			}
			return n, NewCaptureError(p.input, code, msg, werr)
		}
	}
	return n, err
}

// Close kills the process. Reaping happens in wait.
func (p *processReader) Close() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
	return nil
}

func (p *processReader) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		p.cancel()
	})
	return p.waitErr
}

func (p *processReader) killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
