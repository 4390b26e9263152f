// Package config parses the worker's single JSON launch argument (spec.md
// §4.5 step 1) into a typed Options struct.
package config

import (
	"encoding/json"
	"fmt"
)

// Options is the worker's launch configuration.
type Options struct {
	URL         string   `json:"url"`
	Port        int      `json:"port,omitempty"`
	TimeoutSec  int      `json:"timeout,omitempty"`
	Telemetry   []string `json:"telemetry,omitempty"`
	IncludeAll  bool     `json:"includeAll,omitempty"`
	UserDataDir string   `json:"userDataDir,omitempty"`
	MaxBodySize int      `json:"maxBodySize,omitempty"`
	Headless    bool     `json:"headless,omitempty"`
	ExternalWS  string   `json:"externalBrowserWsUrl,omitempty"`
}

// DefaultPort is used when Options.Port is unset.
const DefaultPort = 9222

// DefaultMaxBodySize is the 1MB value Parse fills into MaxBodySize when
// unset. The worker does not read MaxBodySize or IncludeAll: it captures no
// network response bodies.
const DefaultMaxBodySize = 1 << 20

// defaultTelemetry is the active-kinds set when the launch config omits it.
var defaultTelemetry = []string{"network", "console", "dom"}

// Parse decodes raw (the worker's single JSON launch argument) and fills
// in defaults: port 9222, the network/console/dom telemetry set, and a
// MaxBodySize of 1MB.
func Parse(raw []byte) (Options, error) {
	var opts Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, fmt.Errorf("config: parse launch options: %w", err)
	}
	if opts.URL == "" && opts.ExternalWS == "" {
		return Options{}, fmt.Errorf("config: one of url or externalBrowserWsUrl is required")
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if len(opts.Telemetry) == 0 {
		opts.Telemetry = append([]string(nil), defaultTelemetry...)
	}
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	return opts, nil
}
