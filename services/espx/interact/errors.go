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

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrRegistryFull indicates every scope nibble is already assigned.
	ErrRegistryFull = errors.New("interact registry full")

	// ErrDuplicateChar indicates the character is already bound to a scope or command.
	ErrDuplicateChar = errors.New("marker character already registered")

	// ErrInvalidChar indicates the character cannot be used as a marker.
	ErrInvalidChar = errors.New("invalid marker character")
)
