package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func resetFlags(t *testing.T) {
	t.Helper()
	prevRoot, prevConfig, prevLogger := rootDir, configPath, logger
	t.Cleanup(func() {
		rootDir, configPath, logger = prevRoot, prevConfig, prevLogger
	})
}

func TestOpenVault_Defaults(t *testing.T) {
	resetFlags(t)
	rootDir = t.TempDir()
	configPath = ""

	v, err := openVault()
	require.NoError(t, err)
	assert.Equal(t, rootDir, v.Root())
	assert.True(t, logger.Core().Enabled(zap.InfoLevel), "configured logger replaces the nop default")
}

func TestOpenVault_BadLogLevelSurfaces(t *testing.T) {
	resetFlags(t)
	rootDir = t.TempDir()
	configPath = filepath.Join(rootDir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"root":".","log_level":"noisy"}`), 0644))

	_, err := openVault()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initializing logger")
}

func TestOpenVault_MissingConfigSurfaces(t *testing.T) {
	resetFlags(t)
	rootDir = t.TempDir()
	configPath = filepath.Join(rootDir, "absent.json")

	_, err := openVault()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}
