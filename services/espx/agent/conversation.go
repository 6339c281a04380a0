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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Conversation file location relative to the workspace root.
const (
	ConversationDir  = ".espx-ls"
	ConversationFile = "conversation.md"
)

// ConversationPath returns the conversation file under root.
func ConversationPath(root string) string {
	return filepath.Join(root, ConversationDir, ConversationFile)
}

// RenderConversation formats every conversation as markdown, one section
// per key, in key order.
func (a *Agent) RenderConversation() string {
	var sb strings.Builder
	sb.WriteString("# Espx conversation\n")
	for _, key := range a.Keys() {
		fmt.Fprintf(&sb, "\n## %s\n", key)
		for _, m := range a.conversations[key] {
			fmt.Fprintf(&sb, "\n### %s\n\n%s\n", strings.ToUpper(string(m.Role)), m.Content)
		}
	}
	return sb.String()
}

// WriteConversation writes RenderConversation to path, creating the parent
// directory. The file is replaced atomically.
func (a *Agent) WriteConversation(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".conversation-*.md")
	if err != nil {
		return fmt.Errorf("create conversation file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(a.RenderConversation()); err != nil {
		tmp.Close()
		return fmt.Errorf("write conversation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close conversation file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace conversation file: %w", err)
	}
	return nil
}
