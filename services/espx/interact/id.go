// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package interact packs a burn's (scope, command) pair into a single byte.
//
// The high nibble carries the scope and the low nibble the command:
//
//	 7   6   5   4   3   2   1   0
//	┌───────────────┬───────────────┐
//	│     scope     │    command    │
//	└───────────────┴───────────────┘
//
// The masks are disjoint, so any scope composes with any command and the
// two halves decompose losslessly. Values outside the known set are never
// rejected: they decode to an "unknown" Label carrying the raw bits so
// that hover text can always be rendered.
package interact

import (
	"fmt"
)

// ID is a packed (scope, command) pair.
type ID byte

// Scope is the high nibble of an ID.
type Scope byte

// Command is the low nibble of an ID.
type Command byte

const (
	// CommandMask selects the command half of an ID.
	CommandMask ID = 0x0F

	// ScopeMask selects the scope half of an ID.
	ScopeMask ID = 0xF0
)

// Built-in commands.
const (
	// Prompt requests a completion from the agent.
	Prompt Command = 0x0

	// Push adds text to the agent's context without requesting a completion.
	Push Command = 0x1

	// RagPush chunks the document into the database and the agent's context.
	RagPush Command = 0x2
)

// Built-in scopes.
const (
	// Global applies to the whole session.
	Global Scope = 0x00

	// Document applies to one document.
	Document Scope = 0x10
)

// Encode packs scope and command into one ID.
//
// Bits outside each half's mask are discarded.
func Encode(scope Scope, command Command) ID {
	return (ID(scope) & ScopeMask) | (ID(command) & CommandMask)
}

// Scope returns the scope half of the ID.
func (id ID) Scope() Scope {
	return Scope(id & ScopeMask)
}

// Command returns the command half of the ID.
func (id ID) Command() Command {
	return Command(id & CommandMask)
}

// String implements fmt.Stringer using the built-in names.
func (id ID) String() string {
	return HumanReadable(id)
}

// Label is one decoded half of an ID.
type Label struct {
	// Name is the upper-case name, or "UNKNOWN <binary>" when not Known.
	Name string

	// Raw holds the masked bits of this half.
	Raw byte

	// Known reports whether Raw matched a registered value.
	Known bool
}

// String returns the label name.
func (l Label) String() string {
	return l.Name
}

// unknownLabel renders raw bits as an 8-bit binary string.
func unknownLabel(raw byte) Label {
	return Label{
		Name: fmt.Sprintf("UNKNOWN %08b", raw),
		Raw:  raw,
	}
}

// defaultRegistry holds only the built-in scopes and commands. It is never
// mutated after package init.
var defaultRegistry = NewRegistry()

// Decode splits id into scope and command labels using the built-in set.
//
// Use Registry.Decode when custom scopes have been registered.
func Decode(id ID) (scope Label, command Label) {
	return defaultRegistry.Decode(id)
}

// HumanReadable renders id as "{COMMAND}_{SCOPE}" using the built-in set,
// for example "PROMPT_GLOBAL". Unknown halves render as "UNKNOWN <binary>".
func HumanReadable(id ID) string {
	return defaultRegistry.HumanReadable(id)
}
