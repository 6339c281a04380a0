// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"errors"
	"fmt"
)

var (
	// ErrLockContention indicates the state lock is held in a conflicting
	// mode. Callers retry or degrade; they never block.
	ErrLockContention = errors.New("state lock contention")

	// ErrShutdown indicates the state has been shut down.
	ErrShutdown = errors.New("state shut down")

	// ErrDocumentNotOpen indicates a change for a document with no mirror.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrInvalidChange indicates a content change outside the document.
	ErrInvalidChange = errors.New("invalid content change")

	// ErrNoAgent indicates no agent is configured.
	ErrNoAgent = errors.New("no agent configured")
)

// LockMode is the mode a caller tried to acquire.
type LockMode int

const (
	// ModeRead is shared acquisition.
	ModeRead LockMode = iota

	// ModeWrite is exclusive acquisition.
	ModeWrite
)

// String returns "read" or "write".
func (m LockMode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// LockContentionError reports a failed non-blocking acquisition.
type LockContentionError struct {
	Mode LockMode
}

// Error implements the error interface.
func (e *LockContentionError) Error() string {
	return fmt.Sprintf("state lock contention: %s lock unavailable", e.Mode)
}

// Is makes errors.Is(err, ErrLockContention) match.
func (e *LockContentionError) Is(target error) bool {
	return target == ErrLockContention
}
