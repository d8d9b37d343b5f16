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

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		l, err := New(Config{})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("debug json", func(t *testing.T) {
		l, err := New(Config{Level: "DEBUG", Format: "json"})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := New(Config{Format: "xml"})
		assert.Error(t, err)
	})
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	l, err := New(Config{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	l.Info("hello from the test")
	_ = l.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "hello from the test"))
}

func TestNew_FileIsDirectory(t *testing.T) {
	_, err := New(Config{File: t.TempDir()})
	assert.Error(t, err)
}
