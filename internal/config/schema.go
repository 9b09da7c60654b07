// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id config files may reference for editor completion.
const SchemaID = "https://holomush.dev/schemas/extreload-config.schema.json"

// fileSchema mirrors the keys a config file may set. Durations are Go
// duration strings ("250ms", "2s").
type fileSchema struct {
	Identity          string `json:"identity,omitempty" jsonschema:"minLength=1,description=Target extension identity"`
	DisplayName       string `json:"display_name,omitempty" jsonschema:"description=Extension display name"`
	Artifact          string `json:"artifact,omitempty" jsonschema:"minLength=1,description=Path of the extension source to watch and serve"`
	Listen            string `json:"listen,omitempty" jsonschema:"description=HTTP/WebSocket listen address (host:port)"`
	ServerURL         string `json:"server_url,omitempty" jsonschema:"pattern=^https?://,description=Base URL of the dev server"`
	BootstrapTemplate string `json:"bootstrap_template,omitempty" jsonschema:"description=Loader template file"`
	Debounce          string `json:"debounce,omitempty" jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	PollInterval      string `json:"poll_interval,omitempty" jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	ReconnectDelay    string `json:"reconnect_delay,omitempty" jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	SettleDelay       string `json:"settle_delay,omitempty" jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	RequestTimeout    string `json:"request_timeout,omitempty" jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	LoadTimeout       string `json:"load_timeout,omitempty" jsonschema:"pattern=^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"`
	Strategy          string `json:"strategy,omitempty" jsonschema:"enum=placeholder,enum=rotation"`
	Policy            string `json:"policy,omitempty" jsonschema:"enum=poll,enum=retry"`
	LogFormat         string `json:"log_format,omitempty" jsonschema:"enum=json,enum=text"`
	LogLevel          string `json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	MetricsAddr       string `json:"metrics_addr,omitempty" jsonschema:"description=Metrics/health HTTP address"`
	Headless          bool   `json:"headless,omitempty" jsonschema:"description=Run attach without a host"`
}

var (
	compiledOnce sync.Once
	compiled     *jschema.Schema
	compileErr   error
)

// GenerateSchema renders the JSON Schema for config files.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&fileSchema{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "extreload configuration"
	schema.Description = "Schema for extreload config.yaml files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("config").Hint("failed to marshal schema").Wrap(err)
	}
	return data, nil
}

// ValidateSchema checks YAML config data against the schema. Unknown keys
// are rejected so typos surface instead of silently falling back to defaults.
func ValidateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.In("config").Code("INVALID_CONFIG").Hint("invalid YAML").Wrap(err)
	}
	if doc == nil {
		return nil
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return oops.In("config").Code("INVALID_CONFIG").Errorf("%s", formatSchemaError(err))
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			compileErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			compileErr = oops.In("config").Hint("failed to parse schema").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("config.schema.json", doc); err != nil {
			compileErr = oops.In("config").Hint("failed to add schema resource").Wrap(err)
			return
		}
		compiled, compileErr = c.Compile("config.schema.json")
		if compileErr != nil {
			compileErr = oops.In("config").Hint("failed to compile schema").Wrap(compileErr)
		}
	})
	return compiled, compileErr
}

// formatSchemaError flattens a validation error to one line.
func formatSchemaError(err error) string {
	msg := strings.TrimSpace(err.Error())
	return strings.Join(strings.Fields(msg), " ")
}
