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
	"log/slog"
	"sort"
	"strings"

	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
	"github.com/voidKandy/espx-ls-sub001/services/espx/scanner"
)

// Block delimiters. A marker whose payload is BlockOpen starts a
// multi-line burn that the next same marker with payload BlockClose ends.
const (
	BlockOpen  = "{"
	BlockClose = "}"
)

// Parse scans text for every marker registered in reg and returns the
// burns in document order.
//
// Description:
//
//	Every occurrence of every marker becomes a burn. An opener without a
//	matching closer is skipped and logged; so is a stray closer. Markers
//	with an empty payload are skipped.
//
// Inputs:
//
//	text - Document text.
//	reg - Marker registry.
//	logger - Logger for skipped markers. Nil uses slog.Default().
//
// Outputs:
//
//	[]*Burn - New idle burns sorted by line then character.
func Parse(text string, reg *interact.Registry, logger *slog.Logger) []*Burn {
	if logger == nil {
		logger = slog.Default()
	}

	var lines []string
	var out []*Burn

	for _, marker := range reg.Markers() {
		var opener *scanner.Match

		for m := range scanner.All(text, marker.Text) {
			switch m.Payload {
			case BlockOpen:
				if opener != nil {
					logger.Debug("unclosed burn block",
						slog.String("marker", marker.Text),
						slog.Int("line", opener.Line))
				}
				open := m
				opener = &open

			case BlockClose:
				if opener == nil {
					logger.Debug("burn block close without open",
						slog.String("marker", marker.Text),
						slog.Int("line", m.Line))
					continue
				}
				if lines == nil {
					lines = splitLines(text)
				}
				out = append(out, New(marker.ID, &MultiLine{
					Start: matchRange(*opener),
					End:   matchRange(m),
				}, blockBody(lines, *opener, m), opener.Prefix))
				opener = nil

			case "":
				continue

			default:
				out = append(out, New(marker.ID, &SingleLine{Range: matchRange(m)}, m.Payload, m.Prefix))
			}
		}

		if opener != nil {
			logger.Debug("unclosed burn block",
				slog.String("marker", marker.Text),
				slog.Int("line", opener.Line))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Activation.Marker().Start, out[j].Activation.Marker().Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Character < b.Character
	})
	return out
}

func matchRange(m scanner.Match) lsp.Range {
	return lsp.Range{
		Start: lsp.Position{Line: m.Line, Character: m.Character},
		End:   lsp.Position{Line: m.Line, Character: m.EndCharacter},
	}
}

// blockBody joins the lines strictly between open and close, stripping the
// opener's comment leader (e.g. "//" or "#") from each.
func blockBody(lines []string, open, close scanner.Match) string {
	leader := strings.TrimSpace(open.Prefix)

	var body []string
	for i := open.Line + 1; i < close.Line && i < len(lines); i++ {
		l := strings.TrimSpace(lines[i])
		if leader != "" {
			l = strings.TrimSpace(strings.TrimPrefix(l, leader))
		}
		body = append(body, l)
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
