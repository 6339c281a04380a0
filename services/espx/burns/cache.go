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
	"sort"

	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// Cache indexes burns by document URI and starting line.
//
// Description:
//
//	Each document maps line numbers to the burns starting on that line, in
//	insertion order. A document that has been seen but holds no burns is
//	kept as an empty entry so callers can tell "cleared" from "never seen".
//
// Thread Safety:
//
//	Not safe for concurrent use. The owner (state.SharedState) guards it.
type Cache struct {
	docs map[string]map[int][]*Burn
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{docs: make(map[string]map[int][]*Burn)}
}

// Save appends burn to the list for its starting line.
func (c *Cache) Save(uri string, burn *Burn) {
	lines, ok := c.docs[uri]
	if !ok {
		lines = make(map[int][]*Burn)
		c.docs[uri] = lines
	}
	line := burn.StartLine()
	lines[line] = append(lines[line], burn)
}

// Touch registers uri with no burns if it is unknown.
func (c *Cache) Touch(uri string) {
	if _, ok := c.docs[uri]; !ok {
		c.docs[uri] = make(map[int][]*Burn)
	}
}

// GetByPosition returns the first burn on pos.Line whose marker range
// contains pos.Character.
//
// Outputs:
//
//	*Burn - The burn.
//	error - *NotPresentError (matching ErrNotPresent) at uri, line or
//	        position granularity.
func (c *Cache) GetByPosition(uri string, pos lsp.Position) (*Burn, error) {
	lines, ok := c.docs[uri]
	if !ok {
		return nil, &NotPresentError{URI: uri, Line: pos.Line, Granularity: GranularityURI}
	}
	onLine := lines[pos.Line]
	if len(onLine) == 0 {
		return nil, &NotPresentError{URI: uri, Line: pos.Line, Granularity: GranularityLine}
	}
	for _, b := range onLine {
		if b.Contains(pos) {
			return b, nil
		}
	}
	return nil, &NotPresentError{URI: uri, Line: pos.Line, Granularity: GranularityPosition}
}

// OnLine returns the burns starting on line, in insertion order.
func (c *Cache) OnLine(uri string, line int) []*Burn {
	return c.docs[uri][line]
}

// AllOnDocument returns every burn for uri ordered by line, then insertion.
//
// Outputs:
//
//	[]*Burn - The burns; empty when the document is present but has none.
//	bool - False when uri has never been seen.
func (c *Cache) AllOnDocument(uri string) ([]*Burn, bool) {
	lines, ok := c.docs[uri]
	if !ok {
		return nil, false
	}

	keys := make([]int, 0, len(lines))
	for line := range lines {
		keys = append(keys, line)
	}
	sort.Ints(keys)

	out := make([]*Burn, 0, len(keys))
	for _, line := range keys {
		out = append(out, lines[line]...)
	}
	return out, true
}

// Find returns the burn with id in uri.
func (c *Cache) Find(uri string, id uuid.UUID) (*Burn, bool) {
	for _, onLine := range c.docs[uri] {
		for _, b := range onLine {
			if b.ID == id {
				return b, true
			}
		}
	}
	return nil, false
}

// InvalidateLines drops every burn in uri whose line span intersects
// [start, end]. It returns the dropped burns.
func (c *Cache) InvalidateLines(uri string, start, end int) []*Burn {
	lines, ok := c.docs[uri]
	if !ok {
		return nil
	}

	var dropped []*Burn
	for line, onLine := range lines {
		kept := onLine[:0]
		for _, b := range onLine {
			bs, be := b.Activation.Lines()
			if intersects(bs, be, start, end) {
				dropped = append(dropped, b)
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) == 0 {
			delete(lines, line)
		} else {
			lines[line] = kept
		}
	}
	return dropped
}

// Replace discards the entry for uri and stores burns in its place.
func (c *Cache) Replace(uri string, burns []*Burn) {
	lines := make(map[int][]*Burn, len(burns))
	for _, b := range burns {
		line := b.StartLine()
		lines[line] = append(lines[line], b)
	}
	c.docs[uri] = lines
}

// Reconcile replaces the entry for uri with scanned, carrying ID and run
// state over from cached burns with the same command, payload and kind.
//
// Description:
//
//	Matching ignores positions, so burns below an edit that shifted
//	line numbers keep their state. Each cached burn is adopted at most once,
//	in document order. Burns dropped earlier by InvalidateLines are gone and
//	cannot be adopted.
//
// Outputs:
//
//	[]*Burn - The scanned burns that did not adopt a cached burn.
func (c *Cache) Reconcile(uri string, scanned []*Burn) []*Burn {
	previous, _ := c.AllOnDocument(uri)

	pool := make(map[identity][]*Burn, len(previous))
	for _, b := range previous {
		pool[b.identity()] = append(pool[b.identity()], b)
	}

	var fresh []*Burn
	for _, b := range scanned {
		key := b.identity()
		if candidates := pool[key]; len(candidates) > 0 {
			b.adopt(candidates[0])
			pool[key] = candidates[1:]
			continue
		}
		fresh = append(fresh, b)
	}

	c.Replace(uri, scanned)
	return fresh
}

// Remove deletes the entry for uri.
func (c *Cache) Remove(uri string) {
	delete(c.docs, uri)
}

// Documents lists the URIs in the cache, sorted.
func (c *Cache) Documents() []string {
	out := make([]string, 0, len(c.docs))
	for uri := range c.docs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of burns for uri.
func (c *Cache) Len(uri string) int {
	n := 0
	for _, onLine := range c.docs[uri] {
		n += len(onLine)
	}
	return n
}
