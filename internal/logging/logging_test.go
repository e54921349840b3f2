package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCoreForwardsAttributes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromCore(core)

	logger.Debug("dropped")
	logger.Info("generation complete", "generation", 3, "best", -0.25)

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "generation complete", entries[0].Message)
	fields := entries[0].ContextMap()
	require.EqualValues(t, 3, fields["generation"])
	require.Equal(t, -0.25, fields["best"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("")
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = parseLevel(" DEBUG ")
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, lvl)

	_, err = parseLevel("loud")
	require.Error(t, err)
}

func TestNewBuildsLogger(t *testing.T) {
	logger, sync, err := New("warn", true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NotNil(t, sync)

	_, _, err = New("nope", false)
	require.Error(t, err)
}
