// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgent_PrepareAndRecord(t *testing.T) {
	a := New(nil, Options{})

	req, err := a.Prepare(GlobalKey, "  explain this  ", "func main() {}")
	require.NoError(t, err)
	assert.Equal(t, DefaultSystemPrompt, req.System)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Context:\nfunc main() {}\n\nexplain this", req.Messages[0].Content)

	a.Record(GlobalKey, "it prints nothing")
	h := a.History(GlobalKey)
	require.Len(t, h, 2)
	assert.Equal(t, Message{Role: RoleAssistant, Content: "it prints nothing"}, h[1])

	// The returned snapshot does not alias the conversation.
	req.Messages[0].Content = "changed"
	assert.NotEqual(t, "changed", a.History(GlobalKey)[0].Content)
}

func TestAgent_PrepareEmpty(t *testing.T) {
	a := New(nil, Options{})
	_, err := a.Prepare(GlobalKey, "   ", "")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, a.Keys())
}

func TestAgent_Push(t *testing.T) {
	a := New(nil, Options{})
	a.Push("file:///a.go", "file:///a.go", "package a")
	a.Push("file:///a.go", "", "   ")

	h := a.History("file:///a.go")
	require.Len(t, h, 1)
	assert.Equal(t, RoleSystem, h[0].Role)
	assert.Equal(t, "file:///a.go:\npackage a", h[0].Content)
}

func TestAgent_ConversationsAreKeyed(t *testing.T) {
	a := New(nil, Options{})
	_, err := a.Prepare("file:///b.go", "one", "")
	require.NoError(t, err)
	_, err = a.Prepare(GlobalKey, "two", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"file:///b.go", GlobalKey}, a.Keys())
	assert.Len(t, a.History("file:///b.go"), 1)

	a.Reset("file:///b.go")
	assert.Equal(t, []string{GlobalKey}, a.Keys())
}

func TestAgent_MaxHistory(t *testing.T) {
	a := New(nil, Options{MaxHistory: 2})
	for _, p := range []string{"a", "b", "c"} {
		_, err := a.Prepare(GlobalKey, p, "")
		require.NoError(t, err)
	}
	h := a.History(GlobalKey)
	require.Len(t, h, 2)
	assert.Equal(t, "b", h[0].Content)
	assert.Equal(t, "c", h[1].Content)
}

func TestAgent_WriteConversation(t *testing.T) {
	a := New(nil, Options{})
	_, err := a.Prepare(GlobalKey, "hello", "")
	require.NoError(t, err)
	a.Record(GlobalKey, "hi there")

	root := t.TempDir()
	path := ConversationPath(root)
	assert.Equal(t, filepath.Join(root, ".espx-ls", "conversation.md"), path)

	require.NoError(t, a.WriteConversation(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "# Espx conversation\n\n## global\n\n### USER\n\nhello\n\n### ASSISTANT\n\nhi there\n"
	assert.Equal(t, want, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}
