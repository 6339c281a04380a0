// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/voidKandy/espx-ls-sub001/services/espx/agent"
	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
	"github.com/voidKandy/espx-ls-sub001/services/espx/state"
)

// CommandArgs is the single argument of espx.activate and espx.cancel.
type CommandArgs struct {
	URI       string `json:"uri"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

// tryRead acquires the read lock, mapping contention to the busy reply.
func (h *Handler) tryRead(method string) (*state.View, func(), error) {
	v, release, err := h.state.TryRead()
	if errors.Is(err, state.ErrLockContention) {
		busyTotal.WithLabelValues(method).Inc()
		return nil, nil, errBusy()
	}
	return v, release, err
}

func (h *Handler) hover(_ context.Context, msg *lsp.Message) (any, error) {
	params, err := decode[lsp.TextDocumentPositionParams](msg)
	if err != nil {
		return nil, err
	}

	v, release, err := h.tryRead(msg.Method)
	if err != nil {
		return nil, err
	}
	defer release()

	b, err := v.GetByPosition(params.TextDocument.URI, params.Position)
	if errors.Is(err, burns.ErrNotPresent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	marker := b.Activation.Marker()
	return lsp.HoverResult{
		Contents: lsp.MarkupContent{Kind: lsp.MarkupMarkdown, Value: RenderHover(b, v.Registry())},
		Range:    &marker,
	}, nil
}

// RenderHover formats a burn for hover.
func RenderHover(b *burns.Burn, reg *interact.Registry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** `%s`\n\n", reg.HumanReadable(b.Interact), b.Status)
	for _, line := range strings.Split(b.Payload, "\n") {
		sb.WriteString("> ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if b.Response != "" {
		sb.WriteString("\n---\n\n")
		sb.WriteString(b.Response)
		sb.WriteString("\n")
	}
	if b.Err != "" {
		fmt.Fprintf(&sb, "\n**Error:** %s\n", b.Err)
	}
	return sb.String()
}

func (h *Handler) codeAction(_ context.Context, msg *lsp.Message) (any, error) {
	params, err := decode[lsp.CodeActionParams](msg)
	if err != nil {
		return nil, err
	}
	uri := params.TextDocument.URI

	v, release, err := h.tryRead(msg.Method)
	if err != nil {
		return nil, err
	}
	defer release()

	all, _ := v.AllOnDocument(uri)
	actions := []lsp.CodeAction{}
	for _, b := range all {
		line := b.StartLine()
		if line < params.Range.Start.Line || line > params.Range.End.Line {
			continue
		}
		args, err := json.Marshal(CommandArgs{URI: uri, Line: line, Character: b.Activation.Marker().Start.Character})
		if err != nil {
			return nil, err
		}
		name := v.Registry().HumanReadable(b.Interact)

		title := "Activate " + name
		actions = append(actions, lsp.CodeAction{
			Title:   title,
			Command: &lsp.Command{Title: title, Command: CommandActivate, Arguments: []json.RawMessage{args}},
		})
		if b.Status == burns.StatusStreaming {
			title := "Cancel " + name
			actions = append(actions, lsp.CodeAction{
				Title:   title,
				Command: &lsp.Command{Title: title, Command: CommandCancel, Arguments: []json.RawMessage{args}},
			})
		}
	}
	return actions, nil
}

// definition points a burn at the conversation file.
func (h *Handler) definition(_ context.Context, msg *lsp.Message) (any, error) {
	params, err := decode[lsp.TextDocumentPositionParams](msg)
	if err != nil {
		return nil, err
	}
	uri := params.TextDocument.URI

	v, release, err := h.tryRead(msg.Method)
	if err != nil {
		return nil, err
	}
	_, err = v.GetByPosition(uri, params.Position)
	release()
	if errors.Is(err, burns.ErrNotPresent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	path := h.conversationPath(uri)
	if err := h.writeConversation(path); err != nil {
		return nil, err
	}
	return lsp.Location{URI: PathToURI(path)}, nil
}

func (h *Handler) conversationPath(uri string) string {
	root := h.Root()
	if root == "" {
		root = filepath.Dir(URIToPath(uri))
	}
	return agent.ConversationPath(root)
}

func (h *Handler) writeConversation(path string) error {
	a, release, err := h.state.Agent()
	if errors.Is(err, state.ErrNoAgent) {
		return nil
	}
	if err != nil {
		return err
	}
	defer release()
	if err := a.WriteConversation(path); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}

func (h *Handler) executeCommand(ctx context.Context, msg *lsp.Message) (any, error) {
	params, err := decode[lsp.ExecuteCommandParams](msg)
	if err != nil {
		return nil, err
	}
	if len(params.Arguments) != 1 {
		return nil, lsp.NewError(lsp.CodeInvalidParams, "%s: expected one argument", params.Command)
	}
	var args CommandArgs
	if err := json.Unmarshal(params.Arguments[0], &args); err != nil {
		return nil, lsp.NewError(lsp.CodeInvalidParams, "%s: %v", params.Command, err)
	}

	switch params.Command {
	case CommandActivate:
		return nil, h.Activate(ctx, args.URI, args.Line, args.Character)
	case CommandCancel:
		n, err := h.Cancel(ctx, args.URI, args.Line)
		h.logger.Debug("cancel command", slog.String("uri", args.URI), slog.Int("cancelled", n))
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, params.Command)
	}
}
