// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// FileNames are searched in each directory, in order.
var FileNames = []string{"espx-ls.toml", "espx-ls.yaml", "espx-ls.yml"}

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey    = "ESPX_API_KEY"
	EnvProvider  = "ESPX_PROVIDER"
	EnvModel     = "ESPX_MODEL"
	EnvLogLevel  = "ESPX_LOG_LEVEL"
	EnvConfigDir = "XDG_CONFIG_HOME"
)

// SearchDirs returns the directories searched for a config file: the
// workspace root (when set), then $XDG_CONFIG_HOME/espx-ls, falling back to
// ~/.config/espx-ls.
func SearchDirs(root string) []string {
	var dirs []string
	if root != "" {
		dirs = append(dirs, root)
	}
	if xdg := os.Getenv(EnvConfigDir); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "espx-ls"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "espx-ls"))
	}
	return dirs
}

// Find returns the first config file present in dirs.
//
// Outputs:
//
//	string - Path of the file.
//	error - ErrNotFound when none exists.
func Find(dirs []string) (string, error) {
	for _, dir := range dirs {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", ErrNotFound
}

// Load finds and reads the config for the workspace root. A missing file
// yields Default() with environment overrides applied.
func Load(root string) (Config, error) {
	path, err := Find(SearchDirs(root))
	if errors.Is(err, ErrNotFound) {
		cfg := Default()
		ApplyEnv(&cfg)
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile reads, decodes, overrides and validates the file at path.
// Fields absent from the file keep their Default() values.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := Decode(data, formatOf(path), &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Source = path
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Format is a config file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return Format(strings.TrimPrefix(filepath.Ext(path), "."))
	}
}

// Decode parses data in format into cfg. Unknown keys are rejected.
func Decode(data []byte, format Format, cfg *Config) error {
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return nil
}

// Encode renders cfg in format.
func Encode(cfg Config, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		return toml.Marshal(cfg)
	case FormatYAML:
		return yaml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ApplyEnv overrides file values from the environment. The API key is only
// taken from ESPX_API_KEY here; provider-specific variables are consulted
// by the agent when no key is configured.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv(EnvProvider); v != "" {
		cfg.Model.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// WriteDefault writes Default() to path in the format implied by its
// extension. An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	data, err := Encode(Default(), formatOf(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
