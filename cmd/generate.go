package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/tonewatch/capture"
	"github.com/RyanBlaney/tonewatch/logging"
)

var (
	generateFreqs     []float64
	generateAmplitude float64
	generateNoise     float64
	generateSeed      uint64
	generateFrames    int
	generateRealtime  bool
	generateOutput    string
	generateAnalyze   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Synthesize test tones as raw s16le PCM",
	Long: `Generate a sum of sine tones with optional uniform noise at the analysis
sample rate. Output is mono signed 16-bit little-endian PCM, suitable for
"tonewatch analyze -" or any player that accepts raw audio.

With --analyze the tones are fed straight into the detector instead.`,
	Example: `  tonewatch generate --freq 2850 --frames 50 > tone.pcm
  tonewatch generate --freq 1000 --freq 2850 --noise 500 | tonewatch analyze - --display json
  tonewatch generate --analyze --realtime --freq 2850`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	flags := generateCmd.Flags()
	flags.Float64SliceVarP(&generateFreqs, "freq", "f", []float64{2850}, "tone frequency in Hz; repeatable")
	flags.Float64VarP(&generateAmplitude, "amplitude", "a", 10000, "peak amplitude of each tone in 16-bit units")
	flags.Float64Var(&generateNoise, "noise", 0, "uniform noise amplitude in 16-bit units")
	flags.Uint64Var(&generateSeed, "seed", 1, "noise seed")
	flags.IntVarP(&generateFrames, "frames", "n", 100, "number of frames (0 = until interrupted)")
	flags.BoolVar(&generateRealtime, "realtime", false, "pace output at the sample rate")
	flags.StringVarP(&generateOutput, "output", "o", "-", "output file, - for stdout")
	flags.BoolVar(&generateAnalyze, "analyze", false, "analyze the generated frames instead of writing them")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := &capture.ToneConfig{
		SampleRate:     appConfig.Audio.SampleRate,
		FrameSize:      appConfig.Audio.FrameSize,
		NoiseAmplitude: generateNoise,
		Seed:           generateSeed,
		Frames:         generateFrames,
		Realtime:       generateRealtime,
	}
	for _, f := range generateFreqs {
		cfg.Tones = append(cfg.Tones, capture.Tone{FrequencyHz: f, Amplitude: generateAmplitude})
	}

	src, err := capture.NewToneSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	if generateAnalyze {
		return runPipeline(cmd, src, fmt.Sprintf("analyzing tones %v Hz", generateFreqs))
	}

	var w io.Writer = cmd.OutOrStdout()
	if generateOutput != "-" && generateOutput != "" {
		f, err := os.Create(generateOutput)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	written, err := writeFrames(cmd, src, w)
	logging.Debug("Generation finished", logging.Fields{
		"frames": written,
		"output": generateOutput,
	})
	return err
}

// writeFrames encodes frames from src to w until the source ends or the
// command is cancelled.
func writeFrames(cmd *cobra.Command, src capture.Source, w io.Writer) (int, error) {
	ctx := cmd.Context()
	written := 0
	for {
		frame, err := src.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return written, nil
			}
			return written, err
		}
		if _, err := w.Write(capture.EncodeS16LE(frame.Samples)); err != nil {
			return written, fmt.Errorf("failed to write frame %d: %w", frame.Seq, err)
		}
		written++
	}
}
