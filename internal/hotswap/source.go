// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hotswap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/extreload/pkg/extension"
)

// DefaultMaxPayloadSize caps a fetched response body.
const DefaultMaxPayloadSize int64 = 16 << 20

// Source is where the orchestrator reads the authoritative version and payload.
type Source interface {
	Version(ctx context.Context) (string, error)
	Code(ctx context.Context) ([]byte, error)
}

// ModuleLoader evaluates a payload and returns the implementation it registered.
type ModuleLoader interface {
	Load(ctx context.Context, payload []byte) (extension.Implementation, error)
}

// HTTPSource reads from a distribution server.
type HTTPSource struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

// NewHTTPSource creates a source for the server at baseURL. A nil client uses
// http.DefaultClient; deadlines come from the caller's context.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{baseURL: strings.TrimRight(baseURL, "/"), client: client, maxBytes: DefaultMaxPayloadSize}
}

// WithMaxPayloadSize sets the largest response body the source accepts.
// Non-positive values restore DefaultMaxPayloadSize.
func (s *HTTPSource) WithMaxPayloadSize(n int64) *HTTPSource {
	if n <= 0 {
		n = DefaultMaxPayloadSize
	}
	s.maxBytes = n
	return s
}

// BaseURL returns the server base URL.
func (s *HTTPSource) BaseURL() string { return s.baseURL }

// Version returns the digest the server currently reports.
func (s *HTTPSource) Version(ctx context.Context) (string, error) {
	body, err := s.get(ctx, s.baseURL+"/version")
	if err != nil {
		return "", err
	}
	var v extension.VersionResponse
	if err := json.Unmarshal(body, &v); err != nil {
		return "", oops.In("hotswap").With("url", s.baseURL+"/version").Wrapf(err, "decode version")
	}
	return v.Digest, nil
}

// Code fetches the payload with a unique cacheBust parameter so no
// intermediary can answer from cache.
func (s *HTTPSource) Code(ctx context.Context) ([]byte, error) {
	return s.get(ctx, s.baseURL+"/code?cacheBust="+url.QueryEscape(ulid.Make().String()))
}

func (s *HTTPSource) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, oops.In("hotswap").With("url", target).Wrap(err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, oops.In("hotswap").With("url", target).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, oops.In("hotswap").With("url", target).With("status", resp.StatusCode).
			Errorf("unexpected status %s", resp.Status)
	}
	if resp.ContentLength > s.maxBytes {
		return nil, payloadTooLarge(target, s.maxBytes)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, oops.In("hotswap").With("url", target).Wrap(err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, payloadTooLarge(target, s.maxBytes)
	}
	return body, nil
}

func payloadTooLarge(target string, limit int64) error {
	return oops.In("hotswap").With("url", target).With("limit_bytes", limit).Errorf("payload too large")
}
