// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handle

import (
	"path"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10
)

var (
	plainSeparators    = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{"\n# ", "\n## ", "\n### ", "\n```\n", "\n\n", "\n", " ", ""}
	cStyleSeparators   = []string{"\nfunc ", "\nfn ", "\nclass ", "\nstruct ", "\n\n", "\n", " ", ""}
	pythonSeparators   = []string{"\nclass ", "\ndef ", "\n\t", "\n", " ", ""}
)

// splitterFor picks separators by the file extension of uri.
func splitterFor(uri string) textsplitter.TextSplitter {
	var seps []string
	switch strings.ToLower(path.Ext(uri)) {
	case ".md", ".markdown":
		seps = markdownSeparators
	case ".py":
		seps = pythonSeparators
	case ".go", ".rs", ".js", ".ts", ".java", ".c", ".h", ".cpp", ".hpp":
		seps = cStyleSeparators
	default:
		seps = plainSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(seps),
	)
}
