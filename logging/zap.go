package logging

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the zap encoder.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseFormat maps "console" or "json" to a Format. Empty selects console.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatConsole, "text":
		return FormatConsole, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return FormatConsole, fmt.Errorf("unknown log format %q", s)
	}
}

// ZapConfig configures a zap-backed Logger.
type ZapConfig struct {
	Level       Level
	Format      Format
	OutputPaths []string // defaults to stderr
	Development bool
}

// ZapLogger implements Logger on top of go.uber.org/zap.
// Debug/Info/Warn/Error map to the zap levels of the same name; Fatal logs and
// exits through zap.
type ZapLogger struct {
	base   *zap.Logger
	level  zap.AtomicLevel
	fields Fields
}

// NewZapLogger builds a logger from cfg. If zap cannot be built (for example an
// unwritable output path) it falls back to a stderr console logger.
func NewZapLogger(cfg ZapConfig) *ZapLogger {
	level := zap.NewAtomicLevelAt(toZapLevel(cfg.Level))

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	zcfg.Encoding = string(FormatConsole)
	if cfg.Format == FormatJSON {
		zcfg.Encoding = string(FormatJSON)
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if zcfg.Encoding == string(FormatConsole) {
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zcfg.OutputPaths = []string{"stderr"}
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}
	zcfg.DisableStacktrace = !cfg.Development

	base, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
		base = zap.New(core)
	}

	return &ZapLogger{base: base, level: level, fields: make(Fields)}
}

// NewZapLoggerFromCore wraps an existing zapcore.Core. The level gates messages
// before they reach the core.
func NewZapLoggerFromCore(core zapcore.Core, lvl Level) *ZapLogger {
	level := zap.NewAtomicLevelAt(toZapLevel(lvl))
	return &ZapLogger{
		base:   zap.New(core, zap.AddCallerSkip(1)),
		level:  level,
		fields: make(Fields),
	}
}

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error {
	return z.base.Sync()
}

func (z *ZapLogger) zapFields(err error, extra []Fields) []zap.Field {
	all := make(Fields, len(z.fields))
	maps.Copy(all, z.fields)
	for _, f := range extra {
		maps.Copy(all, f)
	}

	out := make([]zap.Field, 0, len(all)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for k, v := range all {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (z *ZapLogger) enabled(l Level) bool {
	return z.level.Enabled(toZapLevel(l))
}

func (z *ZapLogger) Debug(msg string, fields ...Fields) {
	if z.enabled(DebugLevel) {
		z.base.Debug(msg, z.zapFields(nil, fields)...)
	}
}

func (z *ZapLogger) Info(msg string, fields ...Fields) {
	if z.enabled(InfoLevel) {
		z.base.Info(msg, z.zapFields(nil, fields)...)
	}
}

func (z *ZapLogger) Warn(msg string, fields ...Fields) {
	if z.enabled(WarnLevel) {
		z.base.Warn(msg, z.zapFields(nil, fields)...)
	}
}

func (z *ZapLogger) Error(err error, msg string, fields ...Fields) {
	if z.enabled(ErrorLevel) {
		z.base.Error(msg, z.zapFields(err, fields)...)
	}
}

func (z *ZapLogger) Fatal(err error, msg string, fields ...Fields) {
	z.base.Fatal(msg, z.zapFields(err, fields)...)
}

// WithFields returns a child logger. The child shares the parent's level.
func (z *ZapLogger) WithFields(fields Fields) Logger {
	newFields := make(Fields, len(z.fields)+len(fields))
	maps.Copy(newFields, z.fields)
	maps.Copy(newFields, fields)

	return &ZapLogger{
		base:   z.base,
		level:  z.level,
		fields: newFields,
	}
}

func (z *ZapLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := FieldsFromContext(ctx); ok {
		return z.WithFields(fields)
	}
	return z
}

func (z *ZapLogger) SetLevel(level Level) {
	z.level.SetLevel(toZapLevel(level))
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// NoOpLogger discards everything. Used by tests and by callers that pass a nil
// logger.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, fields ...Fields)            {}
func (n *NoOpLogger) Info(msg string, fields ...Fields)             {}
func (n *NoOpLogger) Warn(msg string, fields ...Fields)             {}
func (n *NoOpLogger) Error(err error, msg string, fields ...Fields) {}
func (n *NoOpLogger) Fatal(err error, msg string, fields ...Fields) {}
func (n *NoOpLogger) WithFields(fields Fields) Logger               { return n }
func (n *NoOpLogger) WithContext(ctx context.Context) Logger        { return n }
func (n *NoOpLogger) SetLevel(level Level)                          {}
