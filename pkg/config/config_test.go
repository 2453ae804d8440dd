package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultIPCPort, cfg.IPCPort)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ipc_port: 9090\nlog_level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.IPCPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ipc_port: 9090\n"), 0o644))

	t.Setenv("CK3RAVEN_IPC_PORT", "1234")
	t.Setenv("CK3RAVEN_DB_PATH", "/tmp/custom.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.IPCPort)
	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
}

func TestLoad_MalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(": not valid yaml :::"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
