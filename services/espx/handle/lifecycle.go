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
	"log/slog"

	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

func (h *Handler) initialize(_ context.Context, msg *lsp.Message) (any, error) {
	params, err := decode[lsp.InitializeParams](msg)
	if err != nil {
		return nil, err
	}

	root := params.RootPath
	if params.RootURI != "" {
		root = URIToPath(params.RootURI)
	} else if len(params.WorkspaceFolders) > 0 {
		root = URIToPath(params.WorkspaceFolders[0].URI)
	}
	h.rootMu.Lock()
	h.root = root
	h.rootMu.Unlock()

	h.initialized.Store(true)
	h.logger.Info("initialized", slog.String("root", root))
	if h.opts.OnInitialize != nil {
		h.opts.OnInitialize(root)
	}

	return lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    lsp.SyncIncremental,
				Save:      &lsp.SaveOptions{IncludeText: true},
			},
			HoverProvider:      true,
			CodeActionProvider: true,
			DefinitionProvider: true,
			ExecuteCommandProvider: &lsp.ExecuteCommandOptions{
				Commands: []string{CommandActivate, CommandCancel},
			},
		},
		ServerInfo: &lsp.ServerInfo{Name: h.opts.Name, Version: h.opts.Version},
	}, nil
}

// shutdown cancels running sessions. Tasks drain in the background; Close
// waits for them.
func (h *Handler) shutdown(_ context.Context) error {
	if !h.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	n := h.sessions.CancelAll()
	h.logger.Info("shutdown requested", slog.Int("cancelled_sessions", n))
	return nil
}
