// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package burns models inline AI commands found in documents and indexes
// them per document and line.
package burns

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// Status is the lifecycle state of a burn.
type Status int

const (
	// StatusIdle means the burn has not been dispatched.
	StatusIdle Status = iota

	// StatusStreaming means a background task is producing output.
	StatusStreaming

	// StatusDone means the task finished successfully.
	StatusDone

	// StatusErrored means the task failed or was cancelled.
	StatusErrored
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStreaming:
		return "streaming"
	case StatusDone:
		return "done"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusErrored
}

// allowed lists legal transitions. Terminal burns may be dispatched again.
var allowed = map[Status][]Status{
	StatusIdle:      {StatusStreaming, StatusErrored},
	StatusStreaming: {StatusDone, StatusErrored},
	StatusDone:      {StatusStreaming},
	StatusErrored:   {StatusStreaming},
}

// Burn is one recognized command in a document.
//
// Thread Safety:
//
//	Not safe for concurrent use. Burns held by a Cache are guarded by the
//	lock that guards the Cache.
type Burn struct {
	// ID identifies the burn across re-scans of an unchanged line.
	ID uuid.UUID

	// Interact is the packed (scope, command) pair.
	Interact interact.ID

	// Activation locates the burn.
	Activation Activation

	// Payload is the command text after the marker (or the block body).
	Payload string

	// Prefix is the line text before the opening marker.
	Prefix string

	// Status is the current lifecycle state.
	Status Status

	// Response accumulates streamed output.
	Response string

	// Err holds the last failure message when Status is StatusErrored.
	Err string

	// UpdatedAt is the time of the last status change.
	UpdatedAt time.Time

	// Run is the session that last moved the burn to StatusStreaming.
	// It is not persisted.
	Run uuid.UUID
}

// New creates an idle burn with a fresh ID.
func New(id interact.ID, activation Activation, payload, prefix string) *Burn {
	return &Burn{
		ID:         uuid.New(),
		Interact:   id,
		Activation: activation,
		Payload:    payload,
		Prefix:     prefix,
		Status:     StatusIdle,
	}
}

// StartLine returns the line holding the opening marker.
func (b *Burn) StartLine() int {
	start, _ := b.Activation.Lines()
	return start
}

// Contains reports whether pos falls on the marker line within its range.
func (b *Burn) Contains(pos lsp.Position) bool {
	return rangeContains(b.Activation.Marker(), pos)
}

// Transition moves the burn to next.
//
// Outputs:
//
//	error - ErrInvalidTransition when the lifecycle forbids the change.
func (b *Burn) Transition(next Status) error {
	for _, s := range allowed[b.Status] {
		if s == next {
			if next == StatusStreaming {
				b.Response = ""
				b.Err = ""
			}
			b.Status = next
			b.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, next)
}

// Owned reports whether run may write to b. uuid.Nil is accepted from any
// caller.
func (b *Burn) Owned(run uuid.UUID) bool {
	return run == uuid.Nil || b.Run == run
}

// Fail moves the burn to StatusErrored with msg.
func (b *Burn) Fail(msg string) error {
	if err := b.Transition(StatusErrored); err != nil {
		return err
	}
	b.Err = msg
	return nil
}

// AppendResponse adds streamed text.
func (b *Burn) AppendResponse(chunk string) {
	b.Response += chunk
}

// identity is what makes two scans of the same text the same burn.
type identity struct {
	interact interact.ID
	payload  string
	kind     string
}

func (b *Burn) identity() identity {
	return identity{interact: b.Interact, payload: b.Payload, kind: b.Activation.Kind()}
}

// adopt copies run state from prev into b.
func (b *Burn) adopt(prev *Burn) {
	b.ID = prev.ID
	b.Status = prev.Status
	b.Response = prev.Response
	b.Err = prev.Err
	b.UpdatedAt = prev.UpdatedAt
	b.Run = prev.Run
}

// Clone returns a copy safe to read without the cache lock.
func (b *Burn) Clone() *Burn {
	c := *b
	switch a := b.Activation.(type) {
	case *SingleLine:
		cp := *a
		c.Activation = &cp
	case *MultiLine:
		cp := *a
		c.Activation = &cp
	}
	return &c
}
