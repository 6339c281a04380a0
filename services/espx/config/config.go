// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads espx-ls settings from espx-ls.toml or espx-ls.yaml.
//
// Files are searched in the workspace root, then in
// $XDG_CONFIG_HOME/espx-ls. Missing files are not an error: Default()
// is a complete, valid configuration. API keys may come from the
// environment instead of the file.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Model     ModelConfig     `toml:"model" yaml:"model"`
	Database  DatabaseConfig  `toml:"database" yaml:"database"`
	Commands  CommandsConfig  `toml:"commands" yaml:"commands"`
	Control   ControlConfig   `toml:"control" yaml:"control"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `toml:"log" yaml:"log"`

	// Source is the file the config was read from; empty for defaults.
	Source string `toml:"-" yaml:"-"`
}

// ModelConfig selects the completion provider.
type ModelConfig struct {
	Provider  string `toml:"provider" yaml:"provider" validate:"omitempty,oneof=openai anthropic"`
	APIKey    string `toml:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model     string `toml:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `toml:"max_tokens" yaml:"max_tokens" validate:"gte=0,lte=200000"`
	BaseURL   string `toml:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
}

// DatabaseConfig configures the burn store. An empty Path with InMemory
// false disables persistence.
type DatabaseConfig struct {
	Path       string   `toml:"path,omitempty" yaml:"path,omitempty"`
	InMemory   bool     `toml:"in_memory" yaml:"in_memory"`
	GCInterval Duration `toml:"gc_interval" yaml:"gc_interval"`
}

// Enabled reports whether a store should be opened.
func (d DatabaseConfig) Enabled() bool { return d.InMemory || d.Path != "" }

// ScopeConfig registers one custom scope character.
type ScopeConfig struct {
	Char string `toml:"char" yaml:"char" validate:"required,len=1"`
	Name string `toml:"name" yaml:"name" validate:"required,max=32"`
}

// CommandsConfig tunes command fulfilment.
type CommandsConfig struct {
	Scopes          []ScopeConfig `toml:"scopes,omitempty" yaml:"scopes,omitempty" validate:"max=14,dive"`
	InsertResponses bool          `toml:"insert_responses" yaml:"insert_responses"`
	ChannelCapacity int           `toml:"channel_capacity" yaml:"channel_capacity" validate:"gte=1,lte=1024"`
	SendTimeout     Duration      `toml:"send_timeout" yaml:"send_timeout"`
}

// ControlConfig configures the side control socket.
type ControlConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SocketPath string  `toml:"socket_path" yaml:"socket_path" validate:"required_if=Enabled true"`
	Rate       float64 `toml:"rate" yaml:"rate" validate:"gt=0"`
	Burst      int     `toml:"burst" yaml:"burst" validate:"gte=1"`
}

// TelemetryConfig selects exporters.
type TelemetryConfig struct {
	TraceExporter  string `toml:"trace_exporter" yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `toml:"metric_exporter" yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	MetricsAddr    string `toml:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir    string `toml:"dir,omitempty" yaml:"dir,omitempty"`
	Format string `toml:"format" yaml:"format" validate:"oneof=auto text json"`
}

// DefaultSocketPath is where the control socket listens by default.
const DefaultSocketPath = "/tmp/espx_lsp_socket.sock"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Provider:  "openai",
			MaxTokens: 1024,
		},
		Database: DatabaseConfig{
			GCInterval: Duration(10 * time.Minute),
		},
		Commands: CommandsConfig{
			ChannelCapacity: 5,
			SendTimeout:     Duration(30 * time.Second),
		},
		Control: ControlConfig{
			SocketPath: DefaultSocketPath,
			Rate:       10,
			Burst:      20,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

var validate = validator.New()

// Validate checks struct tags and cross-field rules.
//
// Outputs:
//
//	error - *ValidationError (matches ErrInvalid) listing every bad field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return newValidationError(err)
	}
	seen := make(map[string]bool, len(c.Commands.Scopes))
	for _, s := range c.Commands.Scopes {
		if seen[s.Char] {
			return &ValidationError{Fields: []string{fmt.Sprintf("Config.Commands.Scopes: duplicate char %q", s.Char)}}
		}
		seen[s.Char] = true
	}
	return nil
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
