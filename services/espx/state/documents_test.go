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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

func rng(sl, sc, el, ec int) *lsp.Range {
	return &lsp.Range{
		Start: lsp.Position{Line: sl, Character: sc},
		End:   lsp.Position{Line: el, Character: ec},
	}
}

func TestApplyChange(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		change lsp.TextDocumentContentChangeEvent
		want   string
	}{
		{"full replace", "old", lsp.TextDocumentContentChangeEvent{Text: "new"}, "new"},
		{"insert", "hello world", lsp.TextDocumentContentChangeEvent{Range: rng(0, 5, 0, 5), Text: ","}, "hello, world"},
		{"delete across lines", "a\nb\nc", lsp.TextDocumentContentChangeEvent{Range: rng(0, 1, 2, 0)}, "ac"},
		{"replace second line", "one\ntwo\nthree", lsp.TextDocumentContentChangeEvent{Range: rng(1, 0, 1, 3), Text: "TWO"}, "one\nTWO\nthree"},
		{"utf16 column", "é😀x", lsp.TextDocumentContentChangeEvent{Range: rng(0, 3, 0, 4), Text: "y"}, "é😀y"},
		{"clamp past line end", "ab\ncd", lsp.TextDocumentContentChangeEvent{Range: rng(0, 10, 0, 10), Text: "!"}, "ab!\ncd"},
		{"clamp past text end", "ab", lsp.TextDocumentContentChangeEvent{Range: rng(5, 0, 5, 0), Text: "!"}, "ab!"},
		{"crlf line", "ab\r\ncd", lsp.TextDocumentContentChangeEvent{Range: rng(0, 9, 0, 9), Text: "!"}, "ab!\r\ncd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyChange(tt.text, tt.change)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyChange_Invalid(t *testing.T) {
	_, err := ApplyChange("abc", lsp.TextDocumentContentChangeEvent{Range: rng(0, 2, 0, 1)})
	assert.ErrorIs(t, err, ErrInvalidChange)

	_, err = ApplyChange("abc", lsp.TextDocumentContentChangeEvent{Range: rng(-1, 0, 0, 1)})
	assert.ErrorIs(t, err, ErrInvalidChange)
}

func TestDocuments(t *testing.T) {
	d := NewDocuments()

	_, err := d.Apply("file:///x", 2, lsp.TextDocumentContentChangeEvent{Text: "y"})
	assert.ErrorIs(t, err, ErrDocumentNotOpen)

	d.Open("file:///b", "b", 1)
	d.Set("file:///a", "a")
	assert.Equal(t, []string{"file:///a", "file:///b"}, d.URIs())

	text, err := d.Apply("file:///b", 2, lsp.TextDocumentContentChangeEvent{Range: rng(0, 1, 0, 1), Text: "c"})
	require.NoError(t, err)
	assert.Equal(t, "bc", text)
	assert.Equal(t, 2, d.docs["file:///b"].Version)

	d.Close("file:///b")
	_, ok := d.Get("file:///b")
	assert.False(t, ok)
}
