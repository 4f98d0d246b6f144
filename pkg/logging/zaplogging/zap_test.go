package zaplogging

import (
	"testing"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogFuncs_ForwardsLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.NewLogger("module: zapret , ", NewLogFuncs(zap.New(core)))

	logger.Debugf("debug %d", 1)
	logger.Infof("info %s", "line")
	logger.Warnf("warn")
	logger.Errorf("error")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "module: zapret , debug 1", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "module: zapret , info line", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestNewLogFuncs_RespectsCoreLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := logging.NewLogger("", NewLogFuncs(zap.New(core)))

	logger.Infof("hidden")
	logger.Warnf("shown")

	assert.Equal(t, 0, logs.FilterMessage("hidden").Len())
	assert.Equal(t, 1, logs.FilterMessage("shown").Len())
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		logger, err := New(Options{})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("debug_json", func(t *testing.T) {
		logger, err := New(Options{Level: "debug", Format: "json"})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("invalid_level", func(t *testing.T) {
		_, err := New(Options{Level: "loud"})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("invalid_format", func(t *testing.T) {
		_, err := New(Options{Format: "xml"})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}
