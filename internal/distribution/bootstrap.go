// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package distribution

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/extreload/pkg/extension"
)

// IdentityPlaceholder is replaced with the configured identity in the loader.
const IdentityPlaceholder = "{{EXTENSION_ID}}"

//go:embed assets/loader.js
var defaultLoader string

// BootstrapSettings are the client knobs injected into the loader script.
type BootstrapSettings struct {
	Identity       string
	Strategy       string
	Policy         string
	SettleDelay    time.Duration
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
}

// Bootstrap renders the loader script served at /bootstrap.
type Bootstrap struct {
	templatePath string
	settings     BootstrapSettings
}

// NewBootstrap returns a renderer. An empty templatePath uses the built-in
// loader; otherwise the file is re-read on every render so edits to a custom
// loader are picked up without a restart.
func NewBootstrap(templatePath string, settings BootstrapSettings) *Bootstrap {
	return &Bootstrap{templatePath: templatePath, settings: settings}
}

// Render substitutes the identity and client settings into the template.
// serverURL is the http(s) base the browser should call back to.
func (b *Bootstrap) Render(serverURL string) (string, error) {
	tmpl := defaultLoader
	if b.templatePath != "" {
		data, err := os.ReadFile(b.templatePath)
		if err != nil {
			return "", oops.In("distribution").With("path", b.templatePath).Hint("failed to read bootstrap template").Wrap(err)
		}
		tmpl = string(data)
	}

	s := b.settings
	r := strings.NewReplacer(
		IdentityPlaceholder, jsString(s.Identity),
		"{{SERVER_URL}}", jsString(serverURL),
		"{{WS_URL}}", jsString(extension.PushURL(serverURL)),
		"{{STRATEGY}}", jsString(s.Strategy),
		"{{POLICY}}", jsString(s.Policy),
		"{{SETTLE_MS}}", strconv.FormatInt(s.SettleDelay.Milliseconds(), 10),
		"{{POLL_MS}}", strconv.FormatInt(s.PollInterval.Milliseconds(), 10),
		"{{RECONNECT_MS}}", strconv.FormatInt(s.ReconnectDelay.Milliseconds(), 10),
		"{{REQUEST_TIMEOUT_MS}}", strconv.FormatInt(s.RequestTimeout.Milliseconds(), 10),
	)
	return r.Replace(tmpl), nil
}

// jsString escapes s for use inside a single-quoted JS literal.
func jsString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "</", `<\/`).Replace(s)
}
