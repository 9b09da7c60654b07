// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package artifact reads the watched extension source and fingerprints it.
package artifact

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// CodeNotFound marks reads of an absent artifact.
const CodeNotFound = "ARTIFACT_NOT_FOUND"

// Artifact is the externally edited source file. It is never written.
type Artifact struct {
	path string
}

// New returns an Artifact for path. The path is cleaned and made absolute so
// watcher events can be matched against it.
func New(path string) (*Artifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, oops.In("artifact").With("path", path).Wrap(err)
	}
	return &Artifact{path: filepath.Clean(abs)}, nil
}

// Path returns the absolute artifact path.
func (a *Artifact) Path() string { return a.path }

// Name returns the artifact file name.
func (a *Artifact) Name() string { return filepath.Base(a.path) }

// Read returns the current bytes. An absent file yields an ARTIFACT_NOT_FOUND
// error.
func (a *Artifact) Read() ([]byte, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, oops.In("artifact").Code(CodeNotFound).With("path", a.path).Wrap(err)
		}
		return nil, oops.In("artifact").With("path", a.path).Wrap(err)
	}
	return data, nil
}

// Digest returns the hex digest of the current bytes, or "" if the artifact
// is absent or unreadable.
func (a *Artifact) Digest() string {
	data, err := a.Read()
	if err != nil {
		return ""
	}
	return Sum(data)
}

// Size returns the artifact size in bytes, or -1 if it cannot be stat'ed.
func (a *Artifact) Size() int64 {
	info, err := os.Stat(a.path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// Sum is the digest function: lowercase hex MD5 of data.
func Sum(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // content fingerprint
	return hex.EncodeToString(sum[:])
}

// HumanSize formats n the way update logs show it: bytes below 1 KiB,
// otherwise KB with two decimals.
func HumanSize(n int64) string {
	switch {
	case n < 0:
		return "0 B"
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	default:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	}
}
