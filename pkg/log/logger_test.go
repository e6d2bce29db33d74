package log

import (
	"testing"

	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" warn "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("loud"))
}

func TestZapConfig(t *testing.T) {
	dev := zapConfig(config.Config{Environment: "Development", LogLevel: "debug"})
	assert.Equal(t, "console", dev.Encoding)
	assert.Equal(t, zapcore.DebugLevel, dev.Level.Level())

	prod := zapConfig(config.Config{Environment: "production", LogLevel: "error"})
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, zapcore.ErrorLevel, prod.Level.Level())
	assert.Equal(t, []string{"stdout"}, prod.OutputPaths)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.Config{AppName: "pitboss", AppVersion: "test", Environment: "production", LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}
