package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"appbridge/internal/config"
)

func TestBuildLoggerHonorsConfig(t *testing.T) {
	log, err := buildLogger(config.LoggingConfig{Level: "warn", Format: "json"}, false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestBuildLoggerVerboseWinsOverLevel(t *testing.T) {
	log, err := buildLogger(config.LoggingConfig{Level: "error", Format: "json"}, true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestBuildLoggerBadLevelKeepsEncoderDefault(t *testing.T) {
	log, err := buildLogger(config.LoggingConfig{Level: "not-a-level", Format: "text"}, false)
	require.NoError(t, err)
	// Development config defaults to debug.
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = buildLogger(config.LoggingConfig{Level: "not-a-level", Format: "json"}, false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}
