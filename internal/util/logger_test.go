package util

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedDefault(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))

	prev := GetLogger()
	defaultLogger = newLogger(base, zap.NewAtomicLevelAt(zapcore.DebugLevel), "")
	t.Cleanup(func() { defaultLogger = prev })
	return logs
}

func TestLoggerReportsCallingFile(t *testing.T) {
	logs := observedDefault(t)

	Info("package %s", "helper")
	GetLogger().Warn("method %d", 1)
	Named("relay").Debug("child")

	entries := logs.All()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "logger_test.go", filepath.Base(e.Caller.File), e.Message)
	}
	assert.Equal(t, "package helper", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "relay", entries[2].LoggerName)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
