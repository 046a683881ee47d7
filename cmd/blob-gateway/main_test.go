package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-blob-kit/pkg/config"
	"github.com/yourorg/go-blob-kit/pkg/errors"
)

func TestConfigFlagLoadsFile(t *testing.T) {
	t.Setenv("BLOB_PROVIDER", "")
	t.Setenv("HTTP_PORT", "")
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("BLOB_PROVIDER: disk\nHTTP_PORT: 9000\n"), 0o600))

	o := &options{}
	cmd := newRootCmd(o)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--env-file="}))

	cfg, err := o.load()
	require.NoError(t, err)
	assert.Equal(t, config.ProviderDisk, cfg.Provider)
	assert.Equal(t, 9000, cfg.HTTPPort)
}

func TestConfigFlagDefaultsToEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/etc/blob-gateway.toml")

	o := &options{}
	cmd := newRootCmd(o)
	require.NoError(t, cmd.ParseFlags(nil))
	assert.Equal(t, "/etc/blob-gateway.toml", o.cfgFile)
	assert.Equal(t, ".env", o.envFile)
}

func TestInvalidConfigStopsBeforeServing(t *testing.T) {
	t.Setenv("BLOB_PROVIDER", "")
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"BLOB_PROVIDER":"ftp"}`), 0o600))

	cmd := newRootCmd(&options{})
	cmd.SetArgs([]string{"--config", path, "--env-file="})
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRejectsPositionalArguments(t *testing.T) {
	cmd := newRootCmd(&options{})
	cmd.SetArgs([]string{"--env-file=", "serve"})
	assert.Error(t, cmd.Execute())
}
