// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Role is the author of a conversation message.
type Role string

// Roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a snapshot of a conversation sent to a provider.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// ChunkFunc receives streamed text. Returning an error aborts the stream.
type ChunkFunc func(text string) error

// Provider streams completions from a model backend.
type Provider interface {
	// Name returns the provider name used in errors and logs.
	Name() string

	// Stream sends req and calls onChunk for every text delta.
	//
	// Outputs:
	//   string - The full response text.
	//   error - *ProviderError for backend failures, or the error returned
	//           by onChunk.
	Stream(ctx context.Context, req Request, onChunk ChunkFunc) (string, error)
}

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Default models per provider.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultMaxTokens      = 1024
)

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	// Provider is "openai" or "anthropic".
	Provider string

	// APIKey overrides the environment. When empty, ESPX_API_KEY and then
	// the provider's own variable (OPENAI_API_KEY, ANTHROPIC_API_KEY) are
	// consulted.
	APIKey string

	// Model defaults per provider when empty.
	Model string

	// BaseURL points the client at a compatible endpoint.
	BaseURL string
}

// NewProvider builds the provider named in cfg.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	key := resolveAPIKey(name, cfg.APIKey)

	switch name {
	case ProviderOpenAI:
		if key == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY or ESPX_API_KEY", ErrMissingAPIKey)
		}
		return NewOpenAI(key, cfg.Model, cfg.BaseURL), nil
	case ProviderAnthropic:
		if key == "" {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or ESPX_API_KEY", ErrMissingAPIKey)
		}
		return NewAnthropic(key, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func resolveAPIKey(provider, configured string) string {
	if configured != "" {
		return configured
	}
	if key := os.Getenv("ESPX_API_KEY"); key != "" {
		return key
	}
	switch provider {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
