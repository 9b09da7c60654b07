// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/extreload/pkg/errutil"
)

func TestArtifact_DigestTracksContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extension.js")
	a, err := New(path)
	require.NoError(t, err)

	assert.Equal(t, "", a.Digest(), "absent artifact has empty digest")

	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", a.Digest())

	require.NoError(t, os.WriteFile(path, []byte("hello!"), 0o600))
	assert.NotEqual(t, "5d41402abc4b2a76b9719d911017c592", a.Digest())
}

func TestArtifact_ReadMissing(t *testing.T) {
	a, err := New(filepath.Join(t.TempDir(), "missing.js"))
	require.NoError(t, err)

	_, err = a.Read()
	errutil.AssertErrorCode(t, err, CodeNotFound)
	assert.Equal(t, int64(-1), a.Size())
}

func TestArtifact_PathIsAbsolute(t *testing.T) {
	a, err := New("src/../src/extension.js")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(a.Path()))
	assert.Equal(t, "extension.js", a.Name())
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "0 B", HumanSize(-1))
	assert.Equal(t, "512 B", HumanSize(512))
	assert.Equal(t, "1.50 KB", HumanSize(1536))
}
