// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/extreload/internal/config"
	"github.com/holomush/extreload/pkg/extension"
)

// ServerStatus holds what a dev server reports about itself.
type ServerStatus struct {
	ServerURL string `json:"server_url"`
	Healthy   bool   `json:"healthy"`
	Digest    string `json:"digest,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	serverURL  string
	timeout    time.Duration
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand with all flags configured.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health and artifact digest of a dev server",
		Long:  `Query a running dev server for its health and the digest of the artifact it serves.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.serverURL, "server-url", config.DefaultServerURL, "base URL of the dev server")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "bound on each request")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	status := queryServerStatus(ctx, &http.Client{Timeout: cfg.timeout}, cfg.serverURL)

	if cfg.jsonOutput {
		output, err := formatStatusJSON(status)
		if err != nil {
			return err
		}
		cmd.Println(output)
		return nil
	}
	cmd.Print(formatStatusTable(status))
	return nil
}

// queryServerStatus probes /healthz, then /version when healthy.
func queryServerStatus(ctx context.Context, client *http.Client, serverURL string) ServerStatus {
	base := strings.TrimRight(serverURL, "/")
	status := ServerStatus{ServerURL: base}

	start := time.Now()
	if _, err := fetch(ctx, client, base+"/healthz"); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true
	status.LatencyMS = time.Since(start).Milliseconds()

	body, err := fetch(ctx, client, base+"/version")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	var v extension.VersionResponse
	if err := json.Unmarshal(body, &v); err != nil {
		status.Error = fmt.Sprintf("invalid version response: %v", err)
		return status
	}
	status.Digest = v.Digest
	return status
}

func fetch(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, oops.With("url", target).Wrap(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, oops.With("url", target).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, oops.With("url", target).Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, oops.With("url", target).Wrap(err)
	}
	return body, nil
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServerStatus) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "SERVER\tHEALTH\tDIGEST\tLATENCY")
	_, _ = fmt.Fprintln(w, "------\t------\t------\t-------")

	switch {
	case !status.Healthy:
		reason := "unreachable"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tdown\t-\t%s\n", status.ServerURL, reason)
	case status.Error != "":
		_, _ = fmt.Fprintf(w, "%s\tok\t-\t%s\n", status.ServerURL, status.Error)
	default:
		digest := status.Digest
		if digest == "" {
			digest = "(no artifact)"
		}
		_, _ = fmt.Fprintf(w, "%s\tok\t%s\t%dms\n", status.ServerURL, digest, status.LatencyMS)
	}

	_ = w.Flush()
	return buf.String()
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status ServerStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", oops.Hint("failed to marshal status").Wrap(err)
	}
	return string(data), nil
}
