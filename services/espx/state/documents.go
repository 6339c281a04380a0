// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
	"github.com/voidKandy/espx-ls-sub001/services/espx/scanner"
)

// Document is the server's copy of an open editor buffer.
type Document struct {
	URI     string
	Text    string
	Version int
}

// Documents mirrors open buffers so incremental changes can be applied and
// the text re-scanned.
//
// Thread Safety: Not safe for concurrent use; guarded by SharedState.
type Documents struct {
	docs map[string]*Document
}

// NewDocuments creates an empty mirror.
func NewDocuments() *Documents {
	return &Documents{docs: make(map[string]*Document)}
}

// Open stores text as the content of uri.
func (d *Documents) Open(uri, text string, version int) {
	d.docs[uri] = &Document{URI: uri, Text: text, Version: version}
}

// Get returns the mirrored text of uri.
func (d *Documents) Get(uri string) (string, bool) {
	doc, ok := d.docs[uri]
	if !ok {
		return "", false
	}
	return doc.Text, true
}

// Set replaces the text of uri, opening it if needed.
func (d *Documents) Set(uri, text string) {
	if doc, ok := d.docs[uri]; ok {
		doc.Text = text
		return
	}
	d.Open(uri, text, 0)
}

// Apply applies one content change to uri.
//
// Outputs:
//
//	string - The new text.
//	error - ErrDocumentNotOpen or ErrInvalidChange.
func (d *Documents) Apply(uri string, version int, change lsp.TextDocumentContentChangeEvent) (string, error) {
	doc, ok := d.docs[uri]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotOpen, uri)
	}
	text, err := ApplyChange(doc.Text, change)
	if err != nil {
		return "", fmt.Errorf("%s: %w", uri, err)
	}
	doc.Text = text
	doc.Version = version
	return text, nil
}

// Close forgets uri.
func (d *Documents) Close(uri string) {
	delete(d.docs, uri)
}

// URIs lists mirrored documents, sorted.
func (d *Documents) URIs() []string {
	out := make([]string, 0, len(d.docs))
	for uri := range d.docs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// ApplyChange applies an LSP content change to text. A change without a
// range replaces the whole text. Positions use UTF-16 columns; a position
// past the end of a line clamps to the line end and a line past the end of
// the text clamps to the text end.
func ApplyChange(text string, change lsp.TextDocumentContentChangeEvent) (string, error) {
	if change.Range == nil {
		return change.Text, nil
	}
	r := *change.Range
	if r.Start.Line < 0 || r.Start.Character < 0 || r.End.Line < 0 || r.End.Character < 0 {
		return "", fmt.Errorf("%w: negative position", ErrInvalidChange)
	}
	if r.End.Line < r.Start.Line || (r.End.Line == r.Start.Line && r.End.Character < r.Start.Character) {
		return "", fmt.Errorf("%w: end before start", ErrInvalidChange)
	}

	start := offsetOf(text, r.Start)
	end := offsetOf(text, r.End)
	return text[:start] + change.Text + text[end:], nil
}

// offsetOf converts pos to a byte offset in text.
func offsetOf(text string, pos lsp.Position) int {
	lineStart := 0
	for i := 0; i < pos.Line; i++ {
		nl := strings.IndexByte(text[lineStart:], '\n')
		if nl < 0 {
			return len(text)
		}
		lineStart += nl + 1
	}

	line := text[lineStart:]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	line = strings.TrimSuffix(line, "\r")
	return lineStart + scanner.ByteOffset(line, pos.Character)
}
