// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package database

import "errors"

var (
	// ErrStore wraps failures of the underlying store.
	ErrStore = errors.New("database error")

	// ErrNotFound indicates a key with no value.
	ErrNotFound = errors.New("not found")

	// ErrCodec indicates a stored value could not be encoded or decoded.
	ErrCodec = errors.New("database codec error")
)
