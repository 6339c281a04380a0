// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent holds the model conversation behind prompt burns and the
// providers that stream completions for it.
//
// An Agent keeps one conversation per key: GlobalKey for burns in the
// global scope, the document URI for document-scoped burns, and a custom
// key per registered scope. Agent is not safe for concurrent use; the
// server guards it with its own lock and releases that lock while a
// provider streams.
package agent

import (
	"sort"
	"strings"
)

// GlobalKey is the conversation shared by global-scope burns.
const GlobalKey = "global"

// DefaultSystemPrompt frames every conversation.
const DefaultSystemPrompt = "You are a coding assistant embedded in the user's editor. " +
	"Requests arrive from comments in their source files. Answer concisely; " +
	"prefer code over prose when code is asked for."

// Options configures an Agent.
type Options struct {
	// System overrides DefaultSystemPrompt.
	System string

	// MaxTokens caps each completion.
	MaxTokens int

	// MaxHistory bounds messages kept per conversation. Oldest entries are
	// dropped first. Zero keeps everything.
	MaxHistory int
}

// Agent owns the conversations and the provider.
type Agent struct {
	provider      Provider
	opts          Options
	conversations map[string][]Message
}

// New creates an agent streaming through provider.
func New(provider Provider, opts Options) *Agent {
	if opts.System == "" {
		opts.System = DefaultSystemPrompt
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Agent{
		provider:      provider,
		opts:          opts,
		conversations: make(map[string][]Message),
	}
}

// Provider returns the provider. Callers stream through it after
// releasing the agent lock.
func (a *Agent) Provider() Provider { return a.provider }

// SetProvider swaps the provider, keeping conversations.
func (a *Agent) SetProvider(p Provider) { a.provider = p }

// Prepare appends a user turn to the conversation under key and returns
// the request to stream.
//
// Inputs:
//
//	key - Conversation key.
//	prompt - User text. Must not be blank.
//	surrounding - Optional text shown to the model before the prompt, such as
//	              the line the burn sits on.
//
// Outputs:
//
//	Request - Snapshot safe to use without the agent lock.
//	error - ErrEmptyPrompt.
func (a *Agent) Prepare(key, prompt, surrounding string) (Request, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Request{}, ErrEmptyPrompt
	}
	content := prompt
	if c := strings.TrimSpace(surrounding); c != "" {
		content = "Context:\n" + c + "\n\n" + prompt
	}
	a.append(key, Message{Role: RoleUser, Content: content})

	history := a.conversations[key]
	msgs := make([]Message, len(history))
	copy(msgs, history)
	return Request{System: a.opts.System, Messages: msgs, MaxTokens: a.opts.MaxTokens}, nil
}

// Record appends the assistant reply to the conversation under key.
func (a *Agent) Record(key, response string) {
	a.append(key, Message{Role: RoleAssistant, Content: response})
}

// Push adds text to the conversation under key as context without asking
// for a completion.
func (a *Agent) Push(key, label, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if label != "" {
		text = label + ":\n" + text
	}
	a.append(key, Message{Role: RoleSystem, Content: text})
}

// History returns a copy of the conversation under key.
func (a *Agent) History(key string) []Message {
	h := a.conversations[key]
	out := make([]Message, len(h))
	copy(out, h)
	return out
}

// Keys lists conversation keys, sorted.
func (a *Agent) Keys() []string {
	keys := make([]string, 0, len(a.conversations))
	for k := range a.conversations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset drops the conversation under key.
func (a *Agent) Reset(key string) {
	delete(a.conversations, key)
}

func (a *Agent) append(key string, m Message) {
	h := append(a.conversations[key], m)
	if n := a.opts.MaxHistory; n > 0 && len(h) > n {
		h = append([]Message(nil), h[len(h)-n:]...)
	}
	a.conversations[key] = h
}
