package display

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/RyanBlaney/tonewatch/algorithms/common"
	"github.com/RyanBlaney/tonewatch/detection"
	"github.com/RyanBlaney/tonewatch/detection/config"
)

// ConsoleOptions holds the presentation constants of the terminal view.
type ConsoleOptions struct {
	Width int `json:"width"` // columns used by bars and the spectrum strip

	// Display clamp ranges. They only affect drawing, never detection.
	TimeClamp    float64 `json:"time_clamp"`
	AmplitudeMin float64 `json:"amplitude_min"`
	AmplitudeMax float64 `json:"amplitude_max"`
	DBMin        float64 `json:"db_min"`
	DBMax        float64 `json:"db_max"`

	ShowSpectrum   bool `json:"show_spectrum"`
	DetectionsOnly bool `json:"detections_only"`
}

// DefaultConsoleOptions returns the classic scope ranges: ±20000 in the time
// domain, -5..5000 amplitude or -20..120 dB in the frequency domain.
func DefaultConsoleOptions() ConsoleOptions {
	return ConsoleOptions{
		Width:        64,
		TimeClamp:    20000,
		AmplitudeMin: -5,
		AmplitudeMax: 5000,
		DBMin:        -20,
		DBMax:        120,
		ShowSpectrum: true,
	}
}

type consoleStyles struct {
	Header lipgloss.Style
	Dim    lipgloss.Style
	Bar    lipgloss.Style
	Band   lipgloss.Style
	Hit    lipgloss.Style
	Alert  lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	primary := lipgloss.Color("#00ff9f")
	dim := lipgloss.Color("#6e7681")
	alert := lipgloss.Color("#ff5f5f")

	return consoleStyles{
		Header: r.NewStyle().Bold(true).Foreground(primary),
		Dim:    r.NewStyle().Foreground(dim),
		Bar:    r.NewStyle().Foreground(primary),
		Band:   r.NewStyle(),
		Hit:    r.NewStyle().Bold(true).Foreground(alert),
		Alert:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#000000")).Background(alert).Padding(0, 1),
	}
}

// ConsoleSink draws each frame as a few styled lines: a time-domain peak bar,
// a spectrum strip, one line per band and a detect! marker.
type ConsoleSink struct {
	mu     sync.Mutex
	w      io.Writer
	opts   ConsoleOptions
	styles consoleStyles
}

// NewConsoleSink creates a console sink writing to w. Colors are enabled
// only when w is a terminal.
func NewConsoleSink(w io.Writer, opts ConsoleOptions) *ConsoleSink {
	defaults := DefaultConsoleOptions()
	if opts.Width <= 0 {
		opts.Width = defaults.Width
	}
	if opts.TimeClamp <= 0 {
		opts.TimeClamp = defaults.TimeClamp
	}
	if opts.AmplitudeMax <= opts.AmplitudeMin {
		opts.AmplitudeMin, opts.AmplitudeMax = defaults.AmplitudeMin, defaults.AmplitudeMax
	}
	if opts.DBMax <= opts.DBMin {
		opts.DBMin, opts.DBMax = defaults.DBMin, defaults.DBMax
	}

	return &ConsoleSink{
		w:      w,
		opts:   opts,
		styles: newConsoleStyles(lipgloss.NewRenderer(w)),
	}
}

// Banner writes a header line, used for the start and end markers.
func (s *ConsoleSink) Banner(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule := strings.Repeat("─", max(0, s.opts.Width-lipgloss.Width(text)-4))
	_, err := fmt.Fprintln(s.w, s.styles.Header.Render("── "+text+" "+rule))
	return err
}

func (s *ConsoleSink) Render(_ context.Context, report *Report) error {
	if s.opts.DetectionsOnly && !report.Detected {
		return nil
	}

	var lines []string

	peak := common.PeakAbs(report.Samples)
	header := fmt.Sprintf("#%06d %s", report.Seq, report.Timestamp.Format("15:04:05.000"))
	lines = append(lines, fmt.Sprintf("%s  time %s %s",
		s.styles.Header.Render(header),
		s.styles.Bar.Render(bar(peak, s.opts.TimeClamp, s.opts.Width/2)),
		s.styles.Dim.Render(fmt.Sprintf("%.0f", peak)),
	))

	if s.opts.ShowSpectrum && len(report.Values) > 0 {
		lo, hi := s.valueRange(report.Metric)
		strip := sparkline(common.PeakDownsample(report.Values, s.opts.Width), lo, hi)
		span := ""
		if n := len(report.Frequencies); n > 0 {
			span = fmt.Sprintf("%.0f-%.0f Hz", report.Frequencies[0], report.Frequencies[n-1])
		}
		lines = append(lines, fmt.Sprintf("        spec %s %s", s.styles.Bar.Render(strip), s.styles.Dim.Render(span)))
	}

	for _, res := range report.Results {
		lines = append(lines, s.bandLine(res, report.Metric, report.Threshold))
	}

	if report.Detected {
		lines = append(lines, s.styles.Alert.Render("detect!"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, strings.Join(lines, "\n"))
	return err
}

func (s *ConsoleSink) bandLine(res detection.DetectionResult, metric config.Metric, threshold float64) string {
	name := fmt.Sprintf("  %-12s %7.0f-%-7.0f Hz", res.Band.Label(), res.Band.LowHz, res.Band.HighHz)

	if res.Empty {
		return s.styles.Dim.Render(name + "  no bins in band")
	}

	value := formatValue(res.Peak, metric)
	line := fmt.Sprintf("%s  %s @ %.1f Hz  (threshold %s)", name, value, res.PeakHz, formatValue(threshold, metric))
	if res.Exceeds {
		return s.styles.Hit.Render(line + "  DETECT")
	}
	return s.styles.Band.Render(line)
}

func (s *ConsoleSink) valueRange(metric config.Metric) (float64, float64) {
	if metric == config.MetricAmplitude {
		return s.opts.AmplitudeMin, s.opts.AmplitudeMax
	}
	return s.opts.DBMin, s.opts.DBMax
}

func (s *ConsoleSink) Close() error {
	return nil
}

func formatValue(v float64, metric config.Metric) string {
	if unit := metric.Unit(); unit != "" {
		return fmt.Sprintf("%.1f %s", v, unit)
	}
	return fmt.Sprintf("%.1f", v)
}

// bar draws |value| against limit in width cells.
func bar(value, limit float64, width int) string {
	if width <= 0 {
		return ""
	}
	frac := common.Clamp(math.Abs(value)/limit, 0, 1)
	if math.IsNaN(frac) {
		frac = 0
	}
	filled := int(math.Round(frac * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// sparkline maps values clamped to [lo, hi] onto eight block heights.
func sparkline(values []float64, lo, hi float64) string {
	var b strings.Builder
	top := float64(len(sparkLevels) - 1)
	for _, v := range values {
		frac := (common.Clamp(v, lo, hi) - lo) / (hi - lo)
		if math.IsNaN(frac) {
			frac = 0
		}
		b.WriteRune(sparkLevels[int(math.Round(frac*top))])
	}
	return b.String()
}
