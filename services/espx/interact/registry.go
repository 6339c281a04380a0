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
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Default marker characters.
const (
	PromptChar   = '@'
	PushChar     = '+'
	RagPushChar  = '$'
	GlobalChar   = '_'
	DocumentChar = '^'
)

// Marker is one registered marker string and the ID it encodes.
type Marker struct {
	// ID is the packed (scope, command) pair.
	ID ID

	// Text is the command character followed by the scope character, e.g. "@_".
	Text string
}

type entry struct {
	char rune
	name string
}

// Registry maps marker characters to scopes and commands.
//
// Description:
//
//	A new Registry knows the built-in commands (prompt, push, rag push) and
//	scopes (global, document). Additional scopes can be registered at
//	runtime from configuration; each takes the next free scope nibble.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[Command]entry
	scopes   map[Scope]entry
}

// NewRegistry creates a registry holding the built-in scopes and commands.
func NewRegistry() *Registry {
	return &Registry{
		commands: map[Command]entry{
			Prompt:  {char: PromptChar, name: "PROMPT"},
			Push:    {char: PushChar, name: "PUSH"},
			RagPush: {char: RagPushChar, name: "RAG_PUSH"},
		},
		scopes: map[Scope]entry{
			Global:   {char: GlobalChar, name: "GLOBAL"},
			Document: {char: DocumentChar, name: "DOCUMENT"},
		},
	}
}

// RegisterScope binds char to the next free scope value.
//
// Description:
//
//	Assigns the scope nibble one above the highest registered scope. Name
//	is upper-cased for HumanReadable; an empty name renders as
//	"SCOPE(<char>)".
//
// Inputs:
//
//	char - The scope character. Must be printable, non-space and unused.
//	name - Optional display name.
//
// Outputs:
//
//	Scope - The assigned scope value.
//	error - ErrInvalidChar, ErrDuplicateChar or ErrRegistryFull.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) RegisterScope(char rune, name string) (Scope, error) {
	if !unicode.IsPrint(char) || unicode.IsSpace(char) || unicode.IsLetter(char) || unicode.IsDigit(char) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChar, char)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.charInUseLocked(char) {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateChar, char)
	}

	var highest Scope
	for s := range r.scopes {
		if s > highest {
			highest = s
		}
	}
	if ID(highest)&ScopeMask == ScopeMask {
		return 0, ErrRegistryFull
	}
	next := highest + Scope(0x10)

	if name == "" {
		name = fmt.Sprintf("SCOPE(%c)", char)
	}
	r.scopes[next] = entry{char: char, name: strings.ToUpper(name)}
	return next, nil
}

func (r *Registry) charInUseLocked(char rune) bool {
	for _, e := range r.commands {
		if e.char == char {
			return true
		}
	}
	for _, e := range r.scopes {
		if e.char == char {
			return true
		}
	}
	return false
}

// Decode splits id into scope and command labels.
//
// Each half is validated independently; an unregistered half decodes to
// an unknown Label rather than an error.
func (r *Registry) Decode(id ID) (scope Label, command Label) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, c := id.Scope(), id.Command()
	if e, ok := r.scopes[s]; ok {
		scope = Label{Name: e.name, Raw: byte(s), Known: true}
	} else {
		scope = unknownLabel(byte(s))
	}
	if e, ok := r.commands[c]; ok {
		command = Label{Name: e.name, Raw: byte(c), Known: true}
	} else {
		command = unknownLabel(byte(c))
	}
	return scope, command
}

// HumanReadable renders id as "{COMMAND}_{SCOPE}".
func (r *Registry) HumanReadable(id ID) string {
	scope, command := r.Decode(id)
	return command.Name + "_" + scope.Name
}

// Marker returns the marker text for id, or false when either half is unknown.
func (r *Registry) Marker(id ID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.commands[id.Command()]
	if !ok {
		return "", false
	}
	s, ok := r.scopes[id.Scope()]
	if !ok {
		return "", false
	}
	return string([]rune{c.char, s.char}), true
}

// Parse returns the ID encoded by a two-character marker.
func (r *Registry) Parse(marker string) (ID, bool) {
	runes := []rune(marker)
	if len(runes) != 2 {
		return 0, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		cmd     Command
		scope   Scope
		cmdOK   bool
		scopeOK bool
	)
	for k, e := range r.commands {
		if e.char == runes[0] {
			cmd, cmdOK = k, true
			break
		}
	}
	for k, e := range r.scopes {
		if e.char == runes[1] {
			scope, scopeOK = k, true
			break
		}
	}
	if !cmdOK || !scopeOK {
		return 0, false
	}
	return Encode(scope, cmd), true
}

// Markers lists every registered (command, scope) marker ordered by ID.
func (r *Registry) Markers() []Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Marker, 0, len(r.commands)*len(r.scopes))
	for c, ce := range r.commands {
		for s, se := range r.scopes {
			out = append(out, Marker{
				ID:   Encode(s, c),
				Text: string([]rune{ce.char, se.char}),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
