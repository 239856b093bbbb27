package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_ValidLevelsAndFormats(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatConsole} {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			t.Run(format+" "+level, func(t *testing.T) {
				logger, err := NewLogger(level, format)

				require.NoError(t, err)
				require.NotNil(t, logger)
				logger.Info("test log message")
			})
		}
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"invalid level", "invalid"},
		{"uppercase", "INFO"},
		{"trace level", "trace"},
		{"empty string", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, FormatJSON)

			assert.Error(t, err)
			assert.Nil(t, logger)
			assert.Contains(t, err.Error(), "invalid log level")
		})
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	logger, err := NewLogger("info", "xml")

	assert.Nil(t, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		enabled  []zapcore.Level
		disabled []zapcore.Level
	}{
		{"debug", []zapcore.Level{zapcore.DebugLevel, zapcore.ErrorLevel}, nil},
		{"info", []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel}, []zapcore.Level{zapcore.DebugLevel}},
		{"warn", []zapcore.Level{zapcore.WarnLevel}, []zapcore.Level{zapcore.InfoLevel}},
		{"error", []zapcore.Level{zapcore.ErrorLevel}, []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(tt.level, FormatJSON)
			require.NoError(t, err)

			for _, l := range tt.enabled {
				assert.True(t, logger.Core().Enabled(l), l.String())
			}
			for _, l := range tt.disabled {
				assert.False(t, logger.Core().Enabled(l), l.String())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
