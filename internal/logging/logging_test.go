package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuild_Levels(t *testing.T) {
	l, err := Build(Options{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = Build(Options{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = Build(Options{Level: "loud"})
	assert.ErrorContains(t, err, "log level")
}

func TestBuild_WritesJSONToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	l, err := Build(Options{Level: "debug", OutputPaths: []string{path}})
	require.NoError(t, err)

	l.Named("pool").Debug("spawned worker")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"logger":"pool"`)
	assert.Contains(t, line, `"msg":"spawned worker"`)
}

func TestInit_OnlyOnce(t *testing.T) {
	first, err := Init(Options{Level: "error"})
	require.NoError(t, err)
	second, err := Init(Options{Level: "debug"})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, L())
	assert.False(t, second.Core().Enabled(zapcore.DebugLevel))
}
