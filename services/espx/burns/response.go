// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package burns

import (
	"strings"

	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
	"github.com/voidKandy/espx-ls-sub001/services/espx/scanner"
)

// ResponseEdit inserts response below b as comment lines using the burn's
// prefix. text must be the document text b was located in.
func ResponseEdit(uri, text string, b *Burn, response string) lsp.WorkspaceEdit {
	_, end := b.Activation.Lines()
	lines := strings.Split(text, "\n")

	lead := strings.TrimRight(b.Prefix, " \t")
	if lead != "" {
		lead += " "
	}
	var sb strings.Builder
	for _, l := range strings.Split(strings.TrimRight(response, "\n"), "\n") {
		sb.WriteString(strings.TrimRight(lead+l, " \t"))
		sb.WriteString("\n")
	}
	body := sb.String()

	// The burn's last line has no successor: append after it instead.
	pos := lsp.Position{Line: end + 1}
	if end+1 >= len(lines) {
		last := lines[len(lines)-1]
		pos = lsp.Position{Line: len(lines) - 1, Character: scanner.UTF16Len(strings.TrimSuffix(last, "\r"))}
		body = "\n" + strings.TrimSuffix(body, "\n")
	}
	return lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
		uri: {{Range: lsp.Range{Start: pos, End: pos}, NewText: body}},
	}}
}
