package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestZapLoggerFieldsAndLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLoggerFromCore(core, InfoLevel)

	child := logger.WithFields(Fields{"component": "analyzer"})
	child.Debug("hidden")
	child.Info("frame processed", Fields{"seq": 3})
	child.Error(errors.New("boom"), "capture failed")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "frame processed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "analyzer", ctx["component"])
	assert.EqualValues(t, 3, ctx["seq"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])

	logger.SetLevel(DebugLevel)
	child.Debug("now visible")
	assert.Equal(t, 1, logs.FilterMessage("now visible").Len())
}

func TestZapLoggerWithContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLoggerFromCore(core, DebugLevel)

	ctx := ContextWithFields(context.Background(), Fields{"run_id": "abc"})
	logger.WithContext(ctx).Warn("underflow")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "abc", logs.All()[0].ContextMap()["run_id"])

	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestSetGlobalLoggerNil(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	SetGlobalLogger(nil)
	_, ok := GetGlobalLogger().(*NoOpLogger)
	assert.True(t, ok)

	// must not panic
	Info("discarded", Fields{"k": "v"})
	WithFields(Fields{"a": 1}).Debug("discarded")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatConsole, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
