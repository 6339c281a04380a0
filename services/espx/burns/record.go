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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// Record is the flat, serializable form of a Burn.
type Record struct {
	ID        string     `json:"id"`
	URI       string     `json:"uri"`
	Interact  byte       `json:"interact"`
	Kind      string     `json:"kind"`
	Start     lsp.Range  `json:"start"`
	End       *lsp.Range `json:"end,omitempty"`
	Payload   string     `json:"payload"`
	Prefix    string     `json:"prefix,omitempty"`
	Status    string     `json:"status"`
	Response  string     `json:"response,omitempty"`
	Err       string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Record converts b for storage under uri.
func (b *Burn) Record(uri string) Record {
	r := Record{
		ID:        b.ID.String(),
		URI:       uri,
		Interact:  byte(b.Interact),
		Kind:      b.Activation.Kind(),
		Payload:   b.Payload,
		Prefix:    b.Prefix,
		Status:    b.Status.String(),
		Response:  b.Response,
		Err:       b.Err,
		UpdatedAt: b.UpdatedAt,
	}
	switch a := b.Activation.(type) {
	case *SingleLine:
		r.Start = a.Range
	case *MultiLine:
		r.Start = a.Start
		end := a.End
		r.End = &end
	}
	return r
}

// Lines returns the line span of the record.
func (r Record) Lines() (int, int) {
	if r.End != nil {
		return r.Start.Start.Line, r.End.Start.Line
	}
	return r.Start.Start.Line, r.Start.Start.Line
}

// FromRecord rebuilds a Burn from a stored record.
func FromRecord(r Record) (*Burn, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: id %q: %v", ErrInvalidRecord, r.ID, err)
	}
	status, err := ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}

	var act Activation
	switch r.Kind {
	case KindSingle:
		act = &SingleLine{Range: r.Start}
	case KindMulti:
		if r.End == nil {
			return nil, fmt.Errorf("%w: multi-line burn %s without end", ErrInvalidRecord, r.ID)
		}
		act = &MultiLine{Start: r.Start, End: *r.End}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidRecord, r.Kind)
	}

	return &Burn{
		ID:         id,
		Interact:   interact.ID(r.Interact),
		Activation: act,
		Payload:    r.Payload,
		Prefix:     r.Prefix,
		Status:     status,
		Response:   r.Response,
		Err:        r.Err,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

// ParseStatus converts a Status name back.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusIdle, StatusStreaming, StatusDone, StatusErrored} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: status %q", ErrInvalidRecord, s)
}
