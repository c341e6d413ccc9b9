package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{z: zap.New(core)}, logs
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestLogger_FieldsAndLevels(t *testing.T) {
	log, logs := observed(zapcore.InfoLevel)

	sessLog := log.With(Component("router"), SessionID("s-1"))
	sessLog.Debug("dropped")
	sessLog.Info("event routed", Sequence(42), Shape("USER/SUBMITTED/ORGANISM"))
	sessLog.Error("save failed", Err(errors.New("db down")))

	entries := logs.All()
	require.Len(t, entries, 2)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "router", ctx["component"])
	assert.Equal(t, "s-1", ctx["session_id"])
	assert.EqualValues(t, 42, ctx["sequence"])
	assert.Equal(t, "USER/SUBMITTED/ORGANISM", ctx["event"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "db down", entries[1].ContextMap()["error"])
}

func TestContext(t *testing.T) {
	log, logs := observed(zapcore.DebugLevel)
	ctx := WithContext(context.Background(), log.With(String("request_id", "r-1")))

	FromContext(ctx).Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "r-1", logs.All()[0].ContextMap()["request_id"])

	assert.NotNil(t, FromContext(context.Background()))
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New(Options{Level: LevelDebug, Format: format})
		require.NoError(t, err)
		l.Sync()
	}
}
