// Package pipeline drives the acquire, transform, detect and emit loop, one
// frame at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/tonewatch/capture"
	"github.com/RyanBlaney/tonewatch/detection"
	"github.com/RyanBlaney/tonewatch/display"
	"github.com/RyanBlaney/tonewatch/logging"
)

// Options controls run termination and error tolerance
type Options struct {
	// MaxConsecutiveErrors aborts Run after this many recoverable capture
	// errors in a row. 0 tolerates any number.
	MaxConsecutiveErrors int `json:"max_consecutive_errors"`
	// MaxFrames stops Run after this many analyzed frames. 0 means no limit.
	MaxFrames uint64 `json:"max_frames"`
}

// DefaultOptions returns default pipeline options
func DefaultOptions() Options {
	return Options{
		MaxConsecutiveErrors: 5,
	}
}

// Pipeline wires a source, an analyzer and a sink. It is not safe for
// concurrent use; Run and Step belong to a single goroutine.
type Pipeline struct {
	source   capture.Source
	analyzer *detection.Analyzer
	sink     display.Sink
	opts     Options

	runID  string
	logger logging.Logger
}

// New creates a pipeline with a fresh run id.
func New(source capture.Source, analyzer *detection.Analyzer, sink display.Sink, opts Options) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if analyzer == nil {
		return nil, errors.New("pipeline: analyzer is required")
	}
	if sink == nil {
		sink = display.Discard
	}
	if opts.MaxConsecutiveErrors < 0 {
		return nil, fmt.Errorf("pipeline: max consecutive errors cannot be negative: %d", opts.MaxConsecutiveErrors)
	}

	runID := uuid.NewString()
	return &Pipeline{
		source:   source,
		analyzer: analyzer,
		sink:     sink,
		opts:     opts,
		runID:    runID,
		logger:   logging.WithFields(logging.Fields{"component": "pipeline"}),
	}, nil
}

// RunID identifies this pipeline in logs and summaries.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Step processes exactly one frame: acquire, analyze, render. Capture errors
// are returned unwrapped so callers can test them with capture.IsRecoverable
// and errors.Is(err, io.EOF).
func (p *Pipeline) Step(ctx context.Context) (*display.Report, error) {
	frame, err := p.source.NextFrame(ctx)
	if err != nil {
		return nil, err
	}

	result := p.analyzer.Analyze(frame.Samples)
	report := display.NewReport(frame, p.analyzer, result)

	if err := p.sink.Render(ctx, report); err != nil {
		return report, fmt.Errorf("failed to render frame %d: %w", frame.Seq, err)
	}
	return report, nil
}

// Run loops over Step until the input ends, ctx is cancelled, MaxFrames is
// reached or an unrecoverable error occurs. End of input and cancellation
// are normal terminations and return a nil error.
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	stats := newStats(p.runID)
	// sinks see the run id through ctx
	ctx = logging.ContextWithFields(ctx, logging.Fields{"run_id": p.runID})
	logger := p.logger.WithContext(ctx)

	logger.Info("Start", logging.Fields{
		"sample_rate": p.analyzer.SampleRate(),
		"frame_size":  p.analyzer.FrameSize(),
		"bands":       len(p.analyzer.Bands()),
		"metric":      string(p.analyzer.Metric()),
		"threshold":   p.analyzer.Threshold(),
	})

	finish := func(reason string, err error) (*Stats, error) {
		stats.Elapsed = time.Since(stats.Started)
		fields := logging.Fields{
			"reason":     reason,
			"frames":     stats.Frames,
			"detections": stats.DetectionFrames,
			"elapsed":    stats.Elapsed.String(),
		}
		if err != nil {
			logger.Error(err, "End", fields)
		} else {
			logger.Info("End", fields)
		}
		return stats, err
	}

	consecutive := 0
	for {
		if ctx.Err() != nil {
			return finish("cancelled", nil)
		}

		report, err := p.Step(ctx)
		switch {
		case err == nil:
			consecutive = 0
			stats.record(report)
		case errors.Is(err, io.EOF):
			return finish("end of input", nil)
		case ctx.Err() != nil:
			return finish("cancelled", nil)
		case capture.IsRecoverable(err):
			consecutive++
			stats.Recovered++
			logger.Warn("Recoverable capture error", logging.Fields{
				"error":       err.Error(),
				"consecutive": consecutive,
			})
			if p.opts.MaxConsecutiveErrors > 0 && consecutive >= p.opts.MaxConsecutiveErrors {
				return finish("too many errors", fmt.Errorf("giving up after %d consecutive capture errors: %w", consecutive, err))
			}
			continue
		default:
			return finish("error", fmt.Errorf("pipeline step failed: %w", err))
		}

		if report.Detected {
			logger.Debug("Band threshold exceeded", logging.Fields{
				"seq":   report.Seq,
				"bands": bandLabels(report.Detections()),
			})
		}

		if p.opts.MaxFrames > 0 && stats.Frames >= p.opts.MaxFrames {
			return finish("frame limit", nil)
		}
	}
}

func bandLabels(results []detection.DetectionResult) []string {
	labels := make([]string, len(results))
	for i, r := range results {
		labels[i] = r.Band.Label()
	}
	return labels
}
