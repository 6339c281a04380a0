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
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// AppendResponse adds streamed text to the burn id in uri on behalf of
// run. It retries lock contention with the configured backoff.
//
// Outputs:
//
//	error - burns.ErrNotPresent when the burn was invalidated meanwhile,
//	        burns.ErrStaleRun when another run owns the burn.
func (s *SharedState) AppendResponse(ctx context.Context, uri string, id, run uuid.UUID, text string) error {
	return s.Update(ctx, func(m *Mutable) error {
		b, err := ownedBurn(m, uri, id, run)
		if err != nil {
			return fmt.Errorf("append response: %w", err)
		}
		b.AppendResponse(text)
		return nil
	})
}

// SetBurnStatus moves the burn id in uri to status on behalf of run.
//
// Description:
//
//	StatusStreaming always succeeds and makes run the owner of the burn;
//	setting it again clears the previous response for the superseding run.
//	Other statuses are rejected with burns.ErrStaleRun unless run owns the
//	burn. uuid.Nil acts for any run. Setting the current status again is
//	otherwise a no-op.
func (s *SharedState) SetBurnStatus(ctx context.Context, uri string, id, run uuid.UUID, status burns.Status, msg string) error {
	return s.Update(ctx, func(m *Mutable) error {
		if status == burns.StatusStreaming {
			b, ok := m.Cache().Find(uri, id)
			if !ok {
				return fmt.Errorf("set burn status: %w", notPresent(uri))
			}
			b.Run = run
			if b.Status == status {
				b.Response = ""
				b.Err = ""
				return nil
			}
			return b.Transition(status)
		}

		b, err := ownedBurn(m, uri, id, run)
		if err != nil {
			return fmt.Errorf("set burn status: %w", err)
		}
		if b.Status == status {
			return nil
		}
		if status == burns.StatusErrored {
			return b.Fail(msg)
		}
		return b.Transition(status)
	})
}

// ResponseEdit builds the edit inserting response below the burn id in uri,
// at the burn's current position in the current document text.
//
// Outputs:
//
//	error - burns.ErrNotPresent when the burn or document is gone,
//	        burns.ErrStaleRun when another run owns the burn.
func (s *SharedState) ResponseEdit(ctx context.Context, uri string, id, run uuid.UUID, response string) (lsp.WorkspaceEdit, error) {
	var edit lsp.WorkspaceEdit
	err := s.Update(ctx, func(m *Mutable) error {
		b, err := ownedBurn(m, uri, id, run)
		if err != nil {
			return err
		}
		text, ok := m.Documents().Get(uri)
		if !ok {
			return notPresent(uri)
		}
		edit = burns.ResponseEdit(uri, text, b, response)
		return nil
	})
	if err != nil {
		return lsp.WorkspaceEdit{}, fmt.Errorf("response edit: %w", err)
	}
	return edit, nil
}

func ownedBurn(m *Mutable, uri string, id, run uuid.UUID) (*burns.Burn, error) {
	b, ok := m.Cache().Find(uri, id)
	if !ok {
		return nil, notPresent(uri)
	}
	if !b.Owned(run) {
		return nil, fmt.Errorf("%w: %s", burns.ErrStaleRun, id)
	}
	return b, nil
}

func notPresent(uri string) error {
	return &burns.NotPresentError{URI: uri, Granularity: burns.GranularityPosition}
}
