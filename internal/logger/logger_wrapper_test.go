package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewZapLoggerFrom(zap.New(core)), logs
}

func TestZapLogger_FieldsAreNative(t *testing.T) {
	l, logs := newObserved()

	l.Info("cycle",
		l.Field().Int("frames", 256),
		l.Field().Uint64("wake", 42),
		l.Field().String("port", "system:capture_1"),
		l.Field().Error("error", errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.EqualValues(t, 256, ctx["frames"])
	assert.EqualValues(t, 42, ctx["wake"])
	assert.Equal(t, "system:capture_1", ctx["port"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestZapLogger_SetLevel(t *testing.T) {
	tests := []struct {
		name  string
		level contracts.LogLevel
		debug bool
		info  bool
		warn  bool
		err   bool
	}{
		{"debug", contracts.DebugLevel, true, true, true, true},
		{"info", contracts.InfoLevel, false, true, true, true},
		{"warn", contracts.WarnLevel, false, false, true, true},
		{"error", contracts.ErrorLevel, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, logs := newObserved()
			l.SetLevel(tt.level)

			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")

			assert.Equal(t, tt.debug, logs.FilterMessage("d").Len() == 1)
			assert.Equal(t, tt.info, logs.FilterMessage("i").Len() == 1)
			assert.Equal(t, tt.warn, logs.FilterMessage("w").Len() == 1)
			assert.Equal(t, tt.err, logs.FilterMessage("e").Len() == 1)
		})
	}
}

func TestZapLogger_IgnoresForeignFields(t *testing.T) {
	l, logs := newObserved()

	l.Info("msg", l.Field(), nil)

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
}

func TestZapLogger_FileDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driver.log")

	l := NewZapLogger().(*ZapLogger)
	l.SetDestination(contracts.FileLog, path)
	l.Info("written to file", l.Field().Int("period", 1024))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), `"period":1024`)

	l.SetDestination(contracts.ConsoleLog)
	assert.Nil(t, l.file)
}
