package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/tonewatch/detection"
	"github.com/RyanBlaney/tonewatch/detection/config"
)

var bandsCmd = &cobra.Command{
	Use:   "bands",
	Short: "Show which FFT bins each configured band covers",
	Long: `Print the bin set of every configured band for the current sample rate
and frame size. A band narrower than the bin spacing covers no bins and can
never trigger.`,
	Args: cobra.NoArgs,
	RunE: runBands,
}

func init() {
	rootCmd.AddCommand(bandsCmd)
}

func runBands(cmd *cobra.Command, args []string) error {
	analyzer, err := detection.NewAnalyzer(appConfig.DetectorConfig())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	r := lipgloss.NewRenderer(out)
	header := r.NewStyle().Bold(true)
	col := r.NewStyle().Width(14)
	warn := r.NewStyle().Foreground(lipgloss.Color("#FFB020"))

	fmt.Fprintf(out, "%s %d Hz, N=%d, %.3f Hz per bin, backend %s\n",
		header.Render("frames:"), analyzer.SampleRate(), analyzer.FrameSize(),
		analyzer.Resolution(), analyzer.Backend())
	fmt.Fprintf(out, "%s %s > %g\n\n",
		header.Render("detect:"), analyzer.Metric(), analyzer.Threshold())

	fmt.Fprintln(out, header.Render(
		col.Render("BAND")+col.Render("LOW HZ")+col.Render("HIGH HZ")+col.Render("BINS")+"COUNT"))

	freqs := analyzer.FrequencyAxis()
	for _, bi := range analyzer.Bands() {
		row := col.Render(bi.Band.Label()) +
			col.Render(strconv.FormatFloat(bi.Band.LowHz, 'f', -1, 64)) +
			col.Render(strconv.FormatFloat(bi.Band.HighHz, 'f', -1, 64))
		if bi.Empty() {
			fmt.Fprintln(out, row+warn.Render("none (band narrower than bin spacing)"))
			continue
		}
		first, last := bi.Bins[0], bi.Bins[len(bi.Bins)-1]
		fmt.Fprintln(out, row+col.Render(fmt.Sprintf("%d..%d", first, last))+
			fmt.Sprintf("%d (%.1f-%.1f Hz)", len(bi.Bins), freqs[first], freqs[last]))
	}
	return nil
}

// parseBands parses --band values of the form [name:]low-high.
func parseBands(values []string) ([]config.Band, error) {
	bands := make([]config.Band, 0, len(values))
	for _, v := range values {
		band, err := parseBand(v)
		if err != nil {
			return nil, err
		}
		bands = append(bands, band)
	}
	return bands, nil
}

func parseBand(s string) (config.Band, error) {
	var band config.Band
	spec := strings.TrimSpace(s)
	if name, rest, ok := strings.Cut(spec, ":"); ok {
		band.Name = strings.TrimSpace(name)
		spec = rest
	}

	lo, hi, ok := strings.Cut(spec, "-")
	if !ok {
		return band, fmt.Errorf("%w: band %q must look like [name:]low-high", config.ErrInvalidConfig, s)
	}
	var err error
	if band.LowHz, err = strconv.ParseFloat(strings.TrimSpace(lo), 64); err != nil {
		return band, fmt.Errorf("%w: band %q low bound: %v", config.ErrInvalidConfig, s, err)
	}
	if band.HighHz, err = strconv.ParseFloat(strings.TrimSpace(hi), 64); err != nil {
		return band, fmt.Errorf("%w: band %q high bound: %v", config.ErrInvalidConfig, s, err)
	}
	return band, nil
}
