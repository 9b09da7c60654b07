// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import "strings"

// EventKind identifies a push-channel message.
type EventKind string

// KindChange is the only message the dev server pushes.
const KindChange EventKind = "change"

// ChangeEvent tells attached clients the artifact was written. It carries no
// ordering token; clients always re-query the authoritative version.
type ChangeEvent struct {
	Kind   EventKind `json:"kind"`
	Digest string    `json:"digest"`
}

// NewChangeEvent builds a change notification for digest.
func NewChangeEvent(digest string) ChangeEvent {
	return ChangeEvent{Kind: KindChange, Digest: digest}
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	Digest string `json:"digest"`
}

// PushPath is where the dev server exposes the push channel.
const PushPath = "/ws"

// PushURL maps an http(s) server base URL to its ws(s) push-channel URL.
func PushURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + PushPath
}
