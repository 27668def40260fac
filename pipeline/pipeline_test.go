package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/RyanBlaney/tonewatch/capture"
	"github.com/RyanBlaney/tonewatch/detection"
	"github.com/RyanBlaney/tonewatch/detection/config"
	"github.com/RyanBlaney/tonewatch/display"
	"github.com/RyanBlaney/tonewatch/logging"
)

// scriptedSource replays a fixed list of frames and errors.
type scriptedSource struct {
	mu     sync.Mutex
	steps  []func() (*capture.Frame, error)
	closed bool
}

func (s *scriptedSource) NextFrame(ctx context.Context) (*capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return nil, io.EOF
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step()
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func toneFrame(seq uint64, amplitude float64) func() (*capture.Frame, error) {
	return func() (*capture.Frame, error) {
		src, err := capture.NewToneSource(&capture.ToneConfig{
			SampleRate: 44100,
			FrameSize:  2048,
			Tones:      []capture.Tone{{FrequencyHz: 2850, Amplitude: amplitude}},
		})
		if err != nil {
			return nil, err
		}
		f, err := src.NextFrame(context.Background())
		if err != nil {
			return nil, err
		}
		f.Seq = seq
		return f, nil
	}
}

func failWith(err error) func() (*capture.Frame, error) {
	return func() (*capture.Frame, error) { return nil, err }
}

func underflow() func() (*capture.Frame, error) {
	return failWith(capture.NewCaptureError("test", capture.ErrCodeUnderflow, "late", nil))
}

type PipelineTestSuite struct {
	suite.Suite
	analyzer *detection.Analyzer
	reports  []*display.Report
	sink     display.Sink
}

func (s *PipelineTestSuite) SetupSuite() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

func (s *PipelineTestSuite) SetupTest() {
	var err error
	s.analyzer, err = detection.NewAnalyzer(config.DefaultDetectorConfig())
	s.Require().NoError(err)

	s.reports = nil
	s.sink = display.SinkFunc(func(_ context.Context, r *display.Report) error {
		s.reports = append(s.reports, r)
		return nil
	})
}

func (s *PipelineTestSuite) TestRunToEndOfInput() {
	src := &scriptedSource{steps: []func() (*capture.Frame, error){
		toneFrame(0, 10000),
		toneFrame(1, 0),
		toneFrame(2, 10000),
	}}

	p, err := New(src, s.analyzer, s.sink, DefaultOptions())
	s.Require().NoError(err)

	stats, err := p.Run(context.Background())
	s.Require().NoError(err)

	s.Equal(uint64(3), stats.Frames)
	s.Equal(uint64(2), stats.DetectionFrames)
	s.Equal(uint64(2), stats.BandDetections["tone"])
	s.Equal(p.RunID(), stats.RunID)

	s.Require().Len(s.reports, 3)
	s.True(s.reports[0].Detected)
	s.False(s.reports[1].Detected)
	s.Equal(uint64(2), s.reports[2].Seq)
}

func (s *PipelineTestSuite) TestRecoverableErrorsAreTolerated() {
	src := &scriptedSource{steps: []func() (*capture.Frame, error){
		underflow(),
		underflow(),
		toneFrame(0, 10000),
		underflow(),
		toneFrame(1, 10000),
	}}

	p, err := New(src, s.analyzer, s.sink, Options{MaxConsecutiveErrors: 3})
	s.Require().NoError(err)

	stats, err := p.Run(context.Background())
	s.Require().NoError(err)
	s.Equal(uint64(2), stats.Frames)
	s.Equal(uint64(3), stats.Recovered)
}

func (s *PipelineTestSuite) TestTooManyConsecutiveErrors() {
	src := &scriptedSource{steps: []func() (*capture.Frame, error){
		toneFrame(0, 10000),
		underflow(),
		underflow(),
		underflow(),
		toneFrame(1, 10000),
	}}

	p, err := New(src, s.analyzer, s.sink, Options{MaxConsecutiveErrors: 3})
	s.Require().NoError(err)

	stats, err := p.Run(context.Background())
	s.Require().Error(err)
	s.True(capture.HasCode(err, capture.ErrCodeUnderflow))
	s.Equal(uint64(1), stats.Frames)
}

func (s *PipelineTestSuite) TestFatalCaptureErrorAborts() {
	src := &scriptedSource{steps: []func() (*capture.Frame, error){
		failWith(capture.NewCaptureError("test", capture.ErrCodeDevice, "unplugged", nil)),
		toneFrame(0, 10000),
	}}

	p, err := New(src, s.analyzer, s.sink, DefaultOptions())
	s.Require().NoError(err)

	_, err = p.Run(context.Background())
	s.Require().Error(err)
	s.True(capture.HasCode(err, capture.ErrCodeDevice))
	s.Empty(s.reports)
}

func (s *PipelineTestSuite) TestSinkErrorAborts() {
	boom := errors.New("stdout closed")
	src := &scriptedSource{steps: []func() (*capture.Frame, error){
		toneFrame(0, 10000),
		toneFrame(1, 10000),
	}}

	sink := display.SinkFunc(func(context.Context, *display.Report) error { return boom })
	p, err := New(src, s.analyzer, sink, DefaultOptions())
	s.Require().NoError(err)

	stats, err := p.Run(context.Background())
	s.ErrorIs(err, boom)
	s.Zero(stats.Frames)
}

func (s *PipelineTestSuite) TestCancellationStopsCleanly() {
	ctx, cancel := context.WithCancel(context.Background())

	src := &scriptedSource{}
	for i := range 10 {
		src.steps = append(src.steps, toneFrame(uint64(i), 10000))
	}

	sink := display.SinkFunc(func(_ context.Context, r *display.Report) error {
		if r.Seq == 2 {
			cancel()
		}
		return nil
	})

	p, err := New(src, s.analyzer, sink, DefaultOptions())
	s.Require().NoError(err)

	stats, err := p.Run(ctx)
	s.NoError(err)
	s.Equal(uint64(3), stats.Frames)
}

func (s *PipelineTestSuite) TestMaxFrames() {
	src := &scriptedSource{}
	for i := range 10 {
		src.steps = append(src.steps, toneFrame(uint64(i), 0))
	}

	p, err := New(src, s.analyzer, s.sink, Options{MaxFrames: 4})
	s.Require().NoError(err)

	stats, err := p.Run(context.Background())
	s.NoError(err)
	s.Equal(uint64(4), stats.Frames)
	s.Zero(stats.DetectionFrames)
}

func (s *PipelineTestSuite) TestStep() {
	src := &scriptedSource{steps: []func() (*capture.Frame, error){toneFrame(7, 10000)}}

	p, err := New(src, s.analyzer, nil, DefaultOptions())
	s.Require().NoError(err)

	report, err := p.Step(context.Background())
	s.Require().NoError(err)
	s.Equal(uint64(7), report.Seq)
	s.True(report.Detected)

	_, err = p.Step(context.Background())
	s.ErrorIs(err, io.EOF)
}

func (s *PipelineTestSuite) TestWithRealToneSource() {
	src, err := capture.NewToneSource(&capture.ToneConfig{
		SampleRate: 44100,
		FrameSize:  2048,
		Tones:      []capture.Tone{{FrequencyHz: 2850, Amplitude: 10000}},
		Frames:     5,
	})
	s.Require().NoError(err)
	defer src.Close()

	p, err := New(src, s.analyzer, s.sink, DefaultOptions())
	s.Require().NoError(err)

	stats, err := p.Run(context.Background())
	s.Require().NoError(err)
	s.Equal(uint64(5), stats.Frames)
	s.Equal(uint64(5), stats.DetectionFrames)
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func TestNewValidation(t *testing.T) {
	analyzer, err := detection.NewAnalyzer(config.DefaultDetectorConfig())
	require.NoError(t, err)

	_, err = New(nil, analyzer, nil, DefaultOptions())
	assert.Error(t, err)

	_, err = New(&scriptedSource{}, nil, nil, DefaultOptions())
	assert.Error(t, err)

	_, err = New(&scriptedSource{}, analyzer, nil, Options{MaxConsecutiveErrors: -1})
	assert.Error(t, err)

	p, err := New(&scriptedSource{}, analyzer, nil, DefaultOptions())
	require.NoError(t, err)
	_, err = uuid.Parse(p.RunID())
	assert.NoError(t, err)
}

func TestStatsSummary(t *testing.T) {
	stats := newStats("run-1")
	stats.Frames = 12345
	stats.DetectionFrames = 1200
	stats.Recovered = 2
	stats.BandDetections["tone"] = 1200

	summary := stats.Summary()
	assert.Contains(t, summary, "run run-1: 12,345 frames")
	assert.Contains(t, summary, "1,200 with detections")
	assert.Contains(t, summary, "2 recovered capture errors")
	assert.Contains(t, summary, "tone")
	assert.NotContains(t, summary, "padded")
}
