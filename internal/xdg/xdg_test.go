// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir_EnvVar(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/extreload", ConfigDir())
}

func TestConfigDir_Default(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	assert.Equal(t, "/home/testuser/.config/extreload", ConfigDir())
}

func TestDefaultConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Empty(t, DefaultConfigFile(), "missing file yields empty path")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "extreload"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extreload", "config.yaml"), []byte("identity: demo\n"), 0o600))

	assert.Equal(t, filepath.Join(dir, "extreload", "config.yaml"), DefaultConfigFile())
}
