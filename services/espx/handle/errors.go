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
	"errors"

	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

var (
	// ErrNoBurn indicates a command position holds no burn.
	ErrNoBurn = errors.New("no burn at position")

	// ErrNoProvider indicates a prompt ran with no model provider configured.
	ErrNoProvider = errors.New("no model provider configured")

	// ErrUnknownCommand indicates an executeCommand the server does not offer.
	ErrUnknownCommand = errors.New("unknown command")
)

// errBusy answers requests that hit state lock contention.
func errBusy() *lsp.LSPError {
	return lsp.NewError(lsp.CodeRequestFailed, "espx-ls busy")
}

func errNotInitialized() *lsp.LSPError {
	return lsp.NewError(lsp.CodeServerNotInitialized, "server not initialized")
}
