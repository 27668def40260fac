package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/tonewatch/capture"
)

var listenDuration time.Duration

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Detect tones on a live capture device",
	Long: `Capture mono audio from an input device through ffmpeg and analyze it
frame by frame until interrupted.

The device defaults to the platform's default input (pulse on Linux,
avfoundation on macOS, dshow on Windows). Frames that arrive faster than
they can be analyzed are dropped, oldest first.`,
	Example: `  tonewatch listen
  tonewatch listen --device-format alsa --device hw:1
  tonewatch listen --band alarm:950-1050 --websocket :8080`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)

	flags := listenCmd.Flags()
	flags.String("device", "", "capture device name (default from config)")
	flags.String("device-format", "", "ffmpeg input device format (alsa, pulse, avfoundation, dshow)")
	flags.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	flags.String("websocket", "", "serve reports to dashboard clients on this address at /ws")
	flags.Duration("read-timeout", 0, "underflow timeout (0 = default)")
	flags.DurationVarP(&listenDuration, "duration", "t", 0, "stop after this much audio (0 = until interrupted)")

	annotateKey(flags, "device", "capture.device")
	annotateKey(flags, "device-format", "capture.device_format")
	annotateKey(flags, "ffmpeg", "capture.ffmpeg_path")
	annotateKey(flags, "websocket", "display.websocket_addr")
	annotateKey(flags, "read-timeout", "capture.read_timeout")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg := appConfig.FFmpegConfig("")
	cfg.MaxDuration = listenDuration
	if cfg.DeviceFormat == "" {
		return fmt.Errorf("no capture device format configured; set --device-format or capture.device_format")
	}

	if err := capture.CheckAvailability(cfg.FFmpegPath); err != nil {
		return err
	}

	src, err := capture.NewFFmpegSource(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	return runPipeline(cmd, src, fmt.Sprintf("listening on %s %s", cfg.DeviceFormat, cfg.Input))
}
