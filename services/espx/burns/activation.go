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
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// Activation is where a burn lives in its document.
//
// The set of implementations is closed: *SingleLine and *MultiLine. Code
// that switches on an Activation handles both and nothing else.
type Activation interface {
	// Marker returns the range of the line holding the opening marker.
	Marker() lsp.Range

	// Lines returns the first and last line the burn covers, inclusive.
	Lines() (start, end int)

	// Kind returns "single" or "multi".
	Kind() string

	isActivation()
}

// SingleLine is a burn whose marker and payload sit on one line.
type SingleLine struct {
	// Range spans from the marker to the end of the payload.
	Range lsp.Range
}

// Marker implements Activation.
func (a *SingleLine) Marker() lsp.Range { return a.Range }

// Lines implements Activation.
func (a *SingleLine) Lines() (int, int) { return a.Range.Start.Line, a.Range.Start.Line }

// Kind implements Activation.
func (a *SingleLine) Kind() string { return KindSingle }

func (*SingleLine) isActivation() {}

// MultiLine is a block burn: an opening marker with payload "{", the block
// text, and a closing marker with payload "}".
type MultiLine struct {
	// Start is the range of the opening marker line.
	Start lsp.Range

	// End is the range of the closing marker line.
	End lsp.Range
}

// Marker implements Activation.
func (a *MultiLine) Marker() lsp.Range { return a.Start }

// Lines implements Activation.
func (a *MultiLine) Lines() (int, int) { return a.Start.Start.Line, a.End.Start.Line }

// Kind implements Activation.
func (a *MultiLine) Kind() string { return KindMulti }

func (*MultiLine) isActivation() {}

// Activation kinds as stored in records.
const (
	KindSingle = "single"
	KindMulti  = "multi"
)

// rangeContains reports whether pos lies within r on r's start line, with
// both character bounds inclusive.
func rangeContains(r lsp.Range, pos lsp.Position) bool {
	if pos.Line != r.Start.Line {
		return false
	}
	return r.Start.Character <= pos.Character && pos.Character <= r.End.Character
}

// intersects reports whether [aStart, aEnd] and [bStart, bEnd] overlap.
func intersects(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd && bStart <= aEnd
}
