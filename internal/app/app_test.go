package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/snapfile/internal/config"
)

func TestNewFromSettings(t *testing.T) {
	dir := t.TempDir()
	settings, err := config.LoadOrCreate(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	a, err := New(settings, ArchiveDir(settings.Path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, filepath.Join(dir, "archives"), ArchiveDir(settings.Path))
	assert.DirExists(t, filepath.Join(dir, "archives"))
	assert.Same(t, a.Store, a.Service.Store())
	assert.Zero(t, a.Bridge.Count())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))
}
