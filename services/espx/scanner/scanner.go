// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scanner finds burn markers in raw document text.
//
// The scan is purely lexical. A marker inside a string literal or in prose
// is indistinguishable from one in a comment and is reported the same way.
package scanner

import (
	"iter"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Match is one occurrence of a marker.
type Match struct {
	// Line is the 0-indexed line of the marker.
	Line int

	// Character is the UTF-16 column of the first marker character.
	Character int

	// EndCharacter is the UTF-16 column just past the payload, excluding
	// trailing whitespace.
	EndCharacter int

	// Offset is the byte offset of the marker within the text.
	Offset int

	// Prefix is the line text before the marker.
	Prefix string

	// Payload is the text after the marker up to end of line, trimmed.
	Payload string
}

// Scanner yields marker matches one at a time.
//
// Thread Safety: Not safe for concurrent use.
type Scanner struct {
	text   string
	marker string

	pos       int // byte offset where the next search starts
	line      int // line number of lineStart
	lineStart int // byte offset of the current line start
}

// New creates a scanner over text for marker.
func New(text, marker string) *Scanner {
	return &Scanner{text: text, marker: marker}
}

// Next returns the next match, or false when the text is exhausted.
func (s *Scanner) Next() (Match, bool) {
	if s.marker == "" || s.pos >= len(s.text) {
		return Match{}, false
	}

	i := strings.Index(s.text[s.pos:], s.marker)
	if i < 0 {
		s.pos = len(s.text)
		return Match{}, false
	}
	off := s.pos + i

	for {
		nl := strings.IndexByte(s.text[s.lineStart:off], '\n')
		if nl < 0 {
			break
		}
		s.line++
		s.lineStart += nl + 1
	}

	end := len(s.text)
	if nl := strings.IndexByte(s.text[off:], '\n'); nl >= 0 {
		end = off + nl
	}

	prefix := s.text[s.lineStart:off]
	rest := s.text[off+len(s.marker) : end]
	lineText := strings.TrimRight(s.text[s.lineStart:end], " \t\r")

	s.pos = off + len(s.marker)

	return Match{
		Line:         s.line,
		Character:    UTF16Len(prefix),
		EndCharacter: UTF16Len(lineText),
		Offset:       off,
		Prefix:       prefix,
		Payload:      strings.TrimSpace(rest),
	}, true
}

// Reset rewinds the scanner to the start of the text.
func (s *Scanner) Reset() {
	s.pos, s.line, s.lineStart = 0, 0, 0
}

// All returns every occurrence of marker in text, in document order.
//
// The sequence is lazy and restartable: each range over it scans the text
// again from the start. An empty marker or a text without the marker
// yields nothing.
func All(text, marker string) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		s := New(text, marker)
		for {
			m, ok := s.Next()
			if !ok || !yield(m) {
				return
			}
		}
	}
}

// UTF16Len returns the number of UTF-16 code units needed to encode s.
func UTF16Len(s string) int {
	n := 0
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// ByteOffset converts a UTF-16 column on line into a byte offset within
// line, clamped to the line length.
func ByteOffset(line string, character int) int {
	units := 0
	for i, r := range line {
		if units >= character {
			return i
		}
		if l := utf16.RuneLen(r); l > 0 {
			units += l
		} else {
			units++
		}
	}
	return len(line)
}
