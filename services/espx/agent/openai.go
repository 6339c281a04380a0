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
	"errors"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"
)

// OpenAI streams chat completions from the OpenAI API or a compatible
// server.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI provider. Empty model uses
// DefaultOpenAIModel; empty baseURL uses the public API.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return ProviderOpenAI }

// Stream implements Provider.
func (o *OpenAI) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (string, error) {
	ctx, span := startSpan(ctx, o.Name(), o.model)
	defer span.End()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openaiRole(m.Role), Content: m.Content})
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return "", o.fail(ctx, span, err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), o.fail(ctx, span, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		text := resp.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		sb.WriteString(text)
		if err := onChunk(text); err != nil {
			return sb.String(), err
		}
	}

	recordCompletion(ctx, o.Name(), true)
	return sb.String(), nil
}

func (o *OpenAI) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	recordCompletion(ctx, o.Name(), false)
	return &ProviderError{Provider: o.Name(), Err: err}
}

func openaiRole(r Role) string {
	switch r {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
