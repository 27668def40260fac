package configs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. TONEWATCH_DETECTOR_THRESHOLD.
	EnvPrefix = "TONEWATCH"
	// ConfigName is the config file name searched without extension.
	ConfigName = "tonewatch"
)

// Configure sets up config file search paths and environment variable
// support on v.
func Configure(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
		}
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/" + ConfigName)
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
}

// SetDefaults sets default configuration values for all components
func SetDefaults(v *viper.Viper) {
	// Application defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	// Audio defaults: 44.1 kHz mono int16, 2048-sample frames
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.frame_size", 2048)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.input_format", "s16le")
	v.SetDefault("audio.input_rate", 0)

	// Detector defaults
	v.SetDefault("detector.metric", "log_power")
	v.SetDefault("detector.threshold", 70.0)
	v.SetDefault("detector.floor_db", -100.0)
	v.SetDefault("detector.backend", "godsp")
	v.SetDefault("detector.bands", []map[string]any{
		{"name": "tone", "low_hz": 2750.0, "high_hz": 2950.0},
	})

	// Capture defaults
	v.SetDefault("capture.ffmpeg_path", "ffmpeg")
	format, device := defaultDevice()
	v.SetDefault("capture.device_format", format)
	v.SetDefault("capture.device", device)
	v.SetDefault("capture.read_timeout", "0s")
	v.SetDefault("capture.buffer_frames", 8)
	v.SetDefault("capture.overflow", "")

	// Display defaults
	v.SetDefault("display.mode", DisplayConsole)
	v.SetDefault("display.time_clamp", 20000.0)
	v.SetDefault("display.amplitude_clamp", 5000.0)
	v.SetDefault("display.width", 64)
	v.SetDefault("display.spectrum_bins", 0)
	v.SetDefault("display.detections_only", false)
	v.SetDefault("display.websocket_addr", "")

	// Pipeline defaults
	v.SetDefault("pipeline.max_consecutive_errors", 5)
	v.SetDefault("pipeline.max_frames", 0)
}

// Default returns the configuration produced by SetDefaults alone.
func Default() *Config {
	v := viper.New()
	cfg, err := Load(v)
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

// defaultDevice returns the ffmpeg input device and name for the platform.
func defaultDevice() (string, string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}
