package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s4.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", OutputPath: path}))

	Named("cache").Debug("listing merged", zap.String("path", "bucket/a/"))
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "listing merged")
	assert.Contains(t, string(data), "bucket/a/")

	setLevel("error")
	Named("cache").Info("suppressed")
	require.NoError(t, Sync())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "suppressed")
}

func TestInitFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s4.log")
	require.NoError(t, Init(Config{Level: "chatty", OutputPath: path}))

	L().Debug("hidden")
	L().Info("shown")
	require.NoError(t, Sync())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shown")
	assert.NotContains(t, string(data), "hidden")
}
