package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	testCases := []struct {
		level   string
		enabled zapcore.Level
		blocked zapcore.Level
	}{
		{level: "debug", enabled: zapcore.DebugLevel, blocked: zapcore.DebugLevel - 1},
		{level: "", enabled: zapcore.InfoLevel, blocked: zapcore.DebugLevel},
		{level: "WARNING", enabled: zapcore.WarnLevel, blocked: zapcore.InfoLevel},
		{level: "error", enabled: zapcore.ErrorLevel, blocked: zapcore.WarnLevel},
		{level: "verbose", enabled: zapcore.InfoLevel, blocked: zapcore.DebugLevel},
	}
	for _, testCase := range testCases {
		for _, format := range []string{"json", "console"} {
			logger, err := NewLogger(testCase.level, format)
			if err != nil {
				t.Fatalf("level %q format %s: unexpected error: %v", testCase.level, format, err)
			}
			core := logger.Core()
			if !core.Enabled(testCase.enabled) {
				t.Fatalf("level %q: expected %s enabled", testCase.level, testCase.enabled)
			}
			if core.Enabled(testCase.blocked) {
				t.Fatalf("level %q: expected %s disabled", testCase.level, testCase.blocked)
			}
		}
	}
}
