package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	l, err := NewLogger("warn", "json", "kindred-api")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = NewLogger("nonsense", "console", "")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerOrNopReportsBuildError(t *testing.T) {
	var buf bytes.Buffer
	origBuild, origStderr := buildLogger, stderr
	buildLogger = func(zap.Config) (*zap.Logger, error) { return nil, errors.New("open /dev/full: no space") }
	stderr = &buf
	t.Cleanup(func() { buildLogger, stderr = origBuild, origStderr })

	l := NewLoggerOrNop("info", "json", "kindred-api")
	require.NotNil(t, l)
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
	assert.Contains(t, buf.String(), "no space")

	_, err := NewLogger("info", "json", "kindred-api")
	assert.Error(t, err)
}
