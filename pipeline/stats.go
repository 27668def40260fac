package pipeline

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/RyanBlaney/tonewatch/display"
)

// Stats summarizes one Run.
type Stats struct {
	RunID   string        `json:"run_id"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`

	Frames          uint64 `json:"frames"`
	PaddedFrames    uint64 `json:"padded_frames"`
	DetectionFrames uint64 `json:"detection_frames"`
	Recovered       uint64 `json:"recovered_errors"`

	// BandDetections counts detecting frames per band label.
	BandDetections map[string]uint64 `json:"band_detections"`
}

func newStats(runID string) *Stats {
	return &Stats{
		RunID:          runID,
		Started:        time.Now(),
		BandDetections: make(map[string]uint64),
	}
}

func (s *Stats) record(r *display.Report) {
	s.Frames++
	if r.Padded {
		s.PaddedFrames++
	}
	if r.Detected {
		s.DetectionFrames++
	}
	for _, res := range r.Results {
		if res.Exceeds {
			s.BandDetections[res.Band.Label()]++
		}
	}
}

// Summary renders the stats as a short human-readable block with grouped
// thousands.
func (s *Stats) Summary() string {
	p := message.NewPrinter(language.English)

	var b strings.Builder
	p.Fprintf(&b, "run %s: %d frames in %s", s.RunID, s.Frames, s.Elapsed.Round(time.Millisecond).String())
	p.Fprintf(&b, ", %d with detections", s.DetectionFrames)
	if s.PaddedFrames > 0 {
		p.Fprintf(&b, ", %d padded", s.PaddedFrames)
	}
	if s.Recovered > 0 {
		p.Fprintf(&b, ", %d recovered capture errors", s.Recovered)
	}

	labels := make([]string, 0, len(s.BandDetections))
	for label := range s.BandDetections {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		p.Fprintf(&b, "\n  %-16s %d frames", label, s.BandDetections[label])
	}
	return b.String()
}
