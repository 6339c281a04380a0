// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interact

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	scopes := []Scope{Global, Document}
	commands := []Command{Prompt, Push, RagPush}

	for _, s := range scopes {
		for _, c := range commands {
			id := Encode(s, c)
			assert.Equal(t, s, id.Scope())
			assert.Equal(t, c, id.Command())

			scope, command := Decode(id)
			assert.True(t, scope.Known, "scope of %08b", byte(id))
			assert.True(t, command.Known, "command of %08b", byte(id))
			assert.Equal(t, byte(s), scope.Raw)
			assert.Equal(t, byte(c), command.Raw)
		}
	}
}

func TestEncode_MasksHalves(t *testing.T) {
	id := Encode(Scope(0x1F), Command(0xF1))
	assert.Equal(t, ID(0x11), id)
}

func TestHumanReadable(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{Encode(Global, Prompt), "PROMPT_GLOBAL"},
		{Encode(Document, Prompt), "PROMPT_DOCUMENT"},
		{Encode(Global, Push), "PUSH_GLOBAL"},
		{Encode(Document, RagPush), "RAG_PUSH_DOCUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, HumanReadable(tt.id))
			assert.Equal(t, tt.want, tt.id.String())
		})
	}
}

func TestHumanReadable_Unknown(t *testing.T) {
	t.Run("unknown command", func(t *testing.T) {
		got := HumanReadable(ID(0x03))
		assert.True(t, strings.HasPrefix(got, "UNKNOWN 00000011"), got)
		assert.True(t, strings.HasSuffix(got, "_GLOBAL"), got)
	})

	t.Run("unknown scope", func(t *testing.T) {
		got := HumanReadable(ID(0x70))
		assert.Contains(t, got, "UNKNOWN 01110000")
		assert.True(t, strings.HasPrefix(got, "PROMPT_"), got)
	})

	t.Run("every byte renders", func(t *testing.T) {
		for b := 0; b < 256; b++ {
			got := HumanReadable(ID(b))
			require.NotEmpty(t, got)
			scope, command := Decode(ID(b))
			if !scope.Known || !command.Known {
				assert.Contains(t, got, "UNKNOWN")
			}
		}
	})
}

func TestRegistry_Parse(t *testing.T) {
	r := NewRegistry()

	id, ok := r.Parse("@_")
	require.True(t, ok)
	assert.Equal(t, Encode(Global, Prompt), id)

	id, ok = r.Parse("+^")
	require.True(t, ok)
	assert.Equal(t, Encode(Document, Push), id)

	_, ok = r.Parse("@")
	assert.False(t, ok)
	_, ok = r.Parse("@#")
	assert.False(t, ok)
	_, ok = r.Parse("!_")
	assert.False(t, ok)
}

func TestRegistry_MarkerRoundTrip(t *testing.T) {
	r := NewRegistry()
	for _, m := range r.Markers() {
		text, ok := r.Marker(m.ID)
		require.True(t, ok)
		assert.Equal(t, m.Text, text)

		id, ok := r.Parse(m.Text)
		require.True(t, ok)
		assert.Equal(t, m.ID, id)
	}
	assert.Len(t, r.Markers(), 6)
}

func TestRegistry_RegisterScope(t *testing.T) {
	t.Run("assigns next nibble", func(t *testing.T) {
		r := NewRegistry()
		s, err := r.RegisterScope('#', "project")
		require.NoError(t, err)
		assert.Equal(t, Scope(0x20), s)

		id, ok := r.Parse("@#")
		require.True(t, ok)
		assert.Equal(t, "PROMPT_PROJECT", r.HumanReadable(id))

		// Not known to the built-in decoder.
		assert.Contains(t, HumanReadable(id), "UNKNOWN")
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.RegisterScope('^', "")
		assert.True(t, errors.Is(err, ErrDuplicateChar))
		_, err = r.RegisterScope('@', "")
		assert.True(t, errors.Is(err, ErrDuplicateChar))
	})

	t.Run("rejects letters and spaces", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.RegisterScope('a', "")
		assert.ErrorIs(t, err, ErrInvalidChar)
		_, err = r.RegisterScope(' ', "")
		assert.ErrorIs(t, err, ErrInvalidChar)
	})

	t.Run("fills up", func(t *testing.T) {
		r := NewRegistry()
		chars := []rune("#%&*=~!?<>|;:,")
		for _, c := range chars {
			_, err := r.RegisterScope(c, "")
			require.NoError(t, err, "char %q", c)
		}
		_, err := r.RegisterScope('/', "")
		assert.ErrorIs(t, err, ErrRegistryFull)
	})
}
