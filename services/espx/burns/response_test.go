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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

func TestResponseEdit(t *testing.T) {
	single := func(prefix string, line int) *Burn {
		return New(interact.Encode(interact.Global, interact.Prompt),
			&SingleLine{Range: lsp.Range{Start: lsp.Position{Line: line, Character: len(prefix)}}}, "q", prefix)
	}

	tests := []struct {
		name string
		text string
		burn *Burn
		resp string
		pos  lsp.Position
		want string
	}{
		{
			name: "below the burn",
			text: "// @_ q\nnext\n",
			burn: single("// ", 0),
			resp: "a\nb\n",
			pos:  lsp.Position{Line: 1},
			want: "// a\n// b\n",
		},
		{
			name: "after a trailing newline",
			text: "# @_ q\n",
			burn: single("# ", 0),
			resp: "a",
			pos:  lsp.Position{Line: 1},
			want: "# a\n",
		},
		{
			name: "last line without newline",
			text: "x\n-- @_ q",
			burn: single("-- ", 1),
			resp: "a\n\nb",
			pos:  lsp.Position{Line: 1, Character: 7},
			want: "\n-- a\n--\n-- b",
		},
		{
			name: "no prefix",
			text: "@_ q\n",
			burn: single("", 0),
			resp: "plain",
			pos:  lsp.Position{Line: 1},
			want: "plain\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edit := ResponseEdit("file:///r", tt.text, tt.burn, tt.resp)
			edits := edit.Changes["file:///r"]
			require.Len(t, edits, 1)
			assert.Equal(t, tt.pos, edits[0].Range.Start)
			assert.Equal(t, tt.pos, edits[0].Range.End)
			assert.Equal(t, tt.want, edits[0].NewText)
		})
	}
}
