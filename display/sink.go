package display

import (
	"context"
	"errors"
)

// Sink consumes one Report per analyzed frame. Render is called from the
// pipeline goroutine, one frame at a time.
type Sink interface {
	Render(ctx context.Context, report *Report) error
	Close() error
}

// SinkFunc adapts a function to Sink. Close is a no-op.
type SinkFunc func(ctx context.Context, report *Report) error

func (f SinkFunc) Render(ctx context.Context, report *Report) error {
	return f(ctx, report)
}

func (f SinkFunc) Close() error {
	return nil
}

// MultiSink fans a report out to every sink in order. All sinks see every
// report; their errors are joined.
type MultiSink []Sink

func (m MultiSink) Render(ctx context.Context, report *Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Render(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DetectionNotifier calls OnDetection only for reports with at least one
// band above threshold.
type DetectionNotifier struct {
	OnDetection func(ctx context.Context, report *Report) error
}

// NotifyOnDetection returns a sink that invokes fn for detecting frames.
func NotifyOnDetection(fn func(ctx context.Context, report *Report) error) *DetectionNotifier {
	return &DetectionNotifier{OnDetection: fn}
}

func (n *DetectionNotifier) Render(ctx context.Context, report *Report) error {
	if !report.Detected || n.OnDetection == nil {
		return nil
	}
	return n.OnDetection(ctx, report)
}

func (n *DetectionNotifier) Close() error {
	return nil
}

// Discard drops every report.
var Discard Sink = SinkFunc(func(context.Context, *Report) error { return nil })
