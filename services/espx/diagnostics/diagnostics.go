// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnostics projects cached burns into editor diagnostics.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/voidKandy/espx-ls-sub001/services/espx/bufferops"
	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// Source is the diagnostic source reported to the editor.
const Source = "espx-ls"

// maxMessagePayload caps how much of a payload is echoed in a message.
const maxMessagePayload = 80

// Reader is the part of burns.Cache the builder needs.
type Reader interface {
	AllOnDocument(uri string) ([]*burns.Burn, bool)
}

// DiagnoseDocument builds the diagnostics operation for uri.
//
// Description:
//
//	Every burn yields one hint diagnostic spanning its start line from
//	character 0 to the end of the marker range. When uri has no burns
//	(or was never seen) the result is ClearDiagnostics so stale editor
//	diagnostics are removed.
//
// Inputs:
//
//	cache - Burn source. Must not be mutated concurrently.
//	reg - Registry used to label and mark each burn.
//	uri - Document to diagnose.
//
// Outputs:
//
//	bufferops.Operation - PublishDiagnostics or ClearDiagnostics.
func DiagnoseDocument(cache Reader, reg *interact.Registry, uri string) bufferops.Operation {
	all, _ := cache.AllOnDocument(uri)
	if len(all) == 0 {
		return bufferops.ClearDiagnostics{URI: uri}
	}

	diags := make([]lsp.Diagnostic, 0, len(all))
	for _, b := range all {
		diags = append(diags, Diagnose(b, reg))
	}
	return bufferops.PublishDiagnostics{URI: uri, Diagnostics: diags}
}

// Diagnose builds the diagnostic for one burn.
func Diagnose(b *burns.Burn, reg *interact.Registry) lsp.Diagnostic {
	line := b.StartLine()
	marker := b.Activation.Marker()

	code, ok := reg.Marker(b.Interact)
	if !ok {
		code = b.Interact.String()
	}

	return lsp.Diagnostic{
		Range: lsp.Range{
			Start: lsp.Position{Line: line, Character: 0},
			End:   lsp.Position{Line: line, Character: marker.End.Character},
		},
		Severity: lsp.SeverityHint,
		Code:     code,
		Source:   Source,
		Message:  Message(b, reg),
	}
}

// Message renders "LABEL [status]: payload", plus the error for errored
// burns.
func Message(b *burns.Burn, reg *interact.Registry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]", reg.HumanReadable(b.Interact), b.Status)

	if p := firstLine(b.Payload); p != "" {
		sb.WriteString(": ")
		sb.WriteString(p)
	}
	if b.Status == burns.StatusErrored && b.Err != "" {
		sb.WriteString(" (")
		sb.WriteString(b.Err)
		sb.WriteString(")")
	}
	return sb.String()
}

func firstLine(s string) string {
	s, _, cut := strings.Cut(s, "\n")
	if cut {
		s += " ..."
	}
	if r := []rune(s); len(r) > maxMessagePayload {
		s = string(r[:maxMessagePayload]) + "..."
	}
	return s
}
