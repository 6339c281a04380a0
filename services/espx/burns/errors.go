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
	"errors"
	"fmt"
)

// Sentinel errors for burn operations.
var (
	// ErrNotPresent indicates a lookup found no burn. It is a normal miss.
	ErrNotPresent = errors.New("burn not present")

	// ErrInvalidTransition indicates a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid burn status transition")

	// ErrInvalidRecord indicates a stored record could not be converted back.
	ErrInvalidRecord = errors.New("invalid burn record")

	// ErrStaleRun indicates a write from a run that no longer owns the burn.
	ErrStaleRun = errors.New("burn owned by another run")
)

// Granularity is the level at which a lookup missed.
type Granularity int

const (
	// GranularityURI means the document has never been seen.
	GranularityURI Granularity = iota

	// GranularityLine means the document has no burn on the line.
	GranularityLine

	// GranularityPosition means no burn on the line covers the character.
	GranularityPosition
)

// String returns "uri", "line" or "position".
func (g Granularity) String() string {
	switch g {
	case GranularityURI:
		return "uri"
	case GranularityLine:
		return "line"
	case GranularityPosition:
		return "position"
	default:
		return "unknown"
	}
}

// NotPresentError describes a cache miss.
type NotPresentError struct {
	URI         string
	Line        int
	Granularity Granularity
}

// Error implements the error interface.
func (e *NotPresentError) Error() string {
	if e.Granularity == GranularityURI {
		return fmt.Sprintf("burn not present: unknown document %s", e.URI)
	}
	return fmt.Sprintf("burn not present: %s %d of %s", e.Granularity, e.Line, e.URI)
}

// Is makes errors.Is(err, ErrNotPresent) match.
func (e *NotPresentError) Is(target error) bool {
	return target == ErrNotPresent
}
