// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main is the entry point for the extreload dev server and client.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/samber/oops"

	"github.com/holomush/extreload/internal/hotswap"
	"github.com/holomush/extreload/pkg/errutil"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Process exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitSandboxed = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI with args and returns the process exit code. Failures
// are reported once on stderr with their oops code and context.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	cmd.SilenceErrors = true
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	errutil.LogError(slog.New(slog.NewTextHandler(stderr, nil)), serviceName+" failed", err)
	return exitCode(err)
}

// exitCode maps an error to an exit code by its oops code.
func exitCode(err error) int {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return exitFailure
	}
	switch oopsErr.Code() {
	case "INVALID_CONFIG", "CONFIG_LOAD":
		return exitConfig
	case hotswap.CodeHostSandboxed:
		return exitSandboxed
	default:
		return exitFailure
	}
}
