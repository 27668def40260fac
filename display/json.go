package display

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// JSONOptions configures a JSONSink
type JSONOptions struct {
	// DetectionsOnly skips frames with no band above threshold.
	DetectionsOnly bool `json:"detections_only"`
	// SpectrumBins > 0 adds a downsampled spectrum to each line.
	SpectrumBins int `json:"spectrum_bins"`
}

// JSONSink writes one JSON object per line.
type JSONSink struct {
	mu   sync.Mutex
	enc  *json.Encoder
	opts JSONOptions
}

// NewJSONSink creates a sink writing newline-delimited JSON to w
func NewJSONSink(w io.Writer, opts JSONOptions) *JSONSink {
	return &JSONSink{
		enc:  json.NewEncoder(w),
		opts: opts,
	}
}

func (s *JSONSink) Render(_ context.Context, report *Report) error {
	if s.opts.DetectionsOnly && !report.Detected {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(report.Payload(s.opts.SpectrumBins)); err != nil {
		return fmt.Errorf("failed to encode report %d: %w", report.Seq, err)
	}
	return nil
}

func (s *JSONSink) Close() error {
	return nil
}
