package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/RyanBlaney/tonewatch/configs"
	"github.com/RyanBlaney/tonewatch/logging"
)

// viperKeyAnnotation maps a flag to a dotted configuration key when the two
// names differ.
const viperKeyAnnotation = "tonewatch_viper_key"

var (
	configFile string
	logLevel   string
	logFormat  string
	verbose    bool
	bandFlags  []string

	// appConfig is the validated configuration of the running command.
	appConfig *configs.Config
	// configReadErr holds a config file error found during initConfig.
	configReadErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tonewatch",
	Short: "Frequency band tone detector",
	Long: `Listen to an audio stream frame by frame and report when the energy in a
configured frequency band rises above a threshold.

Each frame of N samples is transformed to the frequency domain; the peak
amplitude or log power inside every band is compared with the threshold and
the result is drawn on the console, written as JSON lines, or broadcast to
websocket clients.

Audio can come from a capture device or a file (through ffmpeg), raw PCM on
stdin, or a synthetic tone generator.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()

	flags.StringVar(&configFile, "config", "",
		"config file (default is $HOME/.config/tonewatch/tonewatch.yaml)")
	flags.StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "console",
		"log format (console, json)")
	flags.BoolVarP(&verbose, "verbose", "v", false,
		"verbose output (same as --log-level debug)")

	// Detector flags
	flags.Int("sample-rate", 44100, "analysis sample rate in Hz")
	flags.Int("frame-size", 2048, "samples per frame")
	flags.Float64("threshold", 70, "detection threshold in the unit of the metric")
	flags.String("metric", "log_power", "detection metric (log_power, amplitude)")
	flags.String("backend", "godsp", "FFT backend (godsp, gonum, dft)")
	flags.StringArrayVar(&bandFlags, "band", nil,
		"monitored band as [name:]low-high in Hz; repeatable, replaces configured bands")

	// Output flags
	flags.String("display", configs.DisplayConsole, "output mode (console, json, none)")
	flags.Bool("detections-only", false, "only output frames with a detection")
	flags.Int("spectrum-bins", 0, "spectrum points included in JSON output (0 = none)")
	flags.Uint64("max-frames", 0, "stop after this many frames (0 = unlimited)")

	annotateKey(flags, "sample-rate", "audio.sample_rate")
	annotateKey(flags, "frame-size", "audio.frame_size")
	annotateKey(flags, "threshold", "detector.threshold")
	annotateKey(flags, "metric", "detector.metric")
	annotateKey(flags, "backend", "detector.backend")
	annotateKey(flags, "display", "display.mode")
	annotateKey(flags, "detections-only", "display.detections_only")
	annotateKey(flags, "spectrum-bins", "display.spectrum_bins")
	annotateKey(flags, "max-frames", "pipeline.max_frames")
}

// annotateKey records the configuration key a flag overrides.
func annotateKey(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, viperKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	configReadErr = nil
	configs.Configure(viper.GetViper(), configFile)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			configReadErr = fmt.Errorf("failed to read config: %w", err)
		}
		return
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// initializeConfig binds the flags of the executing command, then loads,
// validates and applies the configuration.
func initializeConfig(cmd *cobra.Command) error {
	if configReadErr != nil {
		return configReadErr
	}
	if err := bindFlags(cmd, viper.GetViper()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg, err := configs.LoadConfig()
	if err != nil {
		return err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if len(bandFlags) > 0 {
		bands, err := parseBands(bandFlags)
		if err != nil {
			return err
		}
		cfg.Detector.Bands = bands
	}
	if err := configs.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	format, _ := logging.ParseFormat(cfg.LogFormat)
	logging.SetGlobalLogger(logging.NewZapLogger(logging.ZapConfig{
		Level:  level,
		Format: format,
	}))

	appConfig = cfg
	return nil
}

// bindFlags binds each cobra flag to its associated viper configuration key
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "band" || f.Name == "help" {
			return
		}
		if err := v.BindPFlag(flagKey(f), f); err != nil {
			lastErr = err
		}
	})

	return lastErr
}

// flagKey returns the configuration key for f: its annotation, or the flag
// name with dashes replaced by underscores.
func flagKey(f *pflag.Flag) string {
	if keys := f.Annotations[viperKeyAnnotation]; len(keys) > 0 {
		return keys[0]
	}
	return strings.ReplaceAll(f.Name, "-", "_")
}

// GetConfig returns the current viper instance
func GetConfig() *viper.Viper {
	return viper.GetViper()
}
