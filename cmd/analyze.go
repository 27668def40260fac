package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/tonewatch/capture"
)

var analyzeRaw bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file|->",
	Short: "Detect tones in an audio file or raw PCM stream",
	Long: `Analyze a recorded file from start to end. Any format ffmpeg can decode
is accepted; use "-" or --raw to read headerless PCM instead, described by
audio.input_format, audio.channels and audio.input_rate.

A trailing partial frame is zero-padded and analyzed.`,
	Example: `  tonewatch analyze alert.wav
  tonewatch generate --frames 20 | tonewatch analyze - --display json
  tonewatch analyze --raw --input-format f32le --channels 2 capture.pcm`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	flags := analyzeCmd.Flags()
	flags.BoolVar(&analyzeRaw, "raw", false, "treat the input as headerless PCM")
	flags.String("input-format", "s16le", "raw PCM sample format (s16le, f32le, f64le)")
	flags.Int("channels", 1, "raw PCM interleaved channel count")
	flags.Int("input-rate", 0, "raw PCM sample rate (0 = analysis sample rate)")
	flags.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	flags.String("websocket", "", "serve reports to dashboard clients on this address at /ws")

	annotateKey(flags, "input-format", "audio.input_format")
	annotateKey(flags, "channels", "audio.channels")
	annotateKey(flags, "input-rate", "audio.input_rate")
	annotateKey(flags, "ffmpeg", "capture.ffmpeg_path")
	annotateKey(flags, "websocket", "display.websocket_addr")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	input := args[0]

	if input == "-" || analyzeRaw {
		r, name, err := openRaw(cmd, input)
		if err != nil {
			return err
		}
		src, err := capture.NewPCMSource(r, appConfig.PCMConfig(name))
		if err != nil {
			r.Close()
			return err
		}
		defer src.Close()
		return runPipeline(cmd, src, fmt.Sprintf("analyzing %s", name))
	}

	cfg := appConfig.FFmpegConfig(input)
	if err := capture.CheckAvailability(cfg.FFmpegPath); err != nil {
		return err
	}
	src, err := capture.NewFFmpegSource(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	return runPipeline(cmd, src, fmt.Sprintf("analyzing %s", input))
}

// openRaw opens a raw PCM input. "-" is the command's stdin.
func openRaw(cmd *cobra.Command, input string) (io.ReadCloser, string, error) {
	if input == "-" {
		return io.NopCloser(cmd.InOrStdin()), "stdin", nil
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open input: %w", err)
	}
	return f, input, nil
}
