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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/bufferops"
	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/diagnostics"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
	"github.com/voidKandy/espx-ls-sub001/services/espx/state"
)

// interruptedMessage marks burns restored mid-stream.
const interruptedMessage = "interrupted"

func (h *Handler) didOpen(ctx context.Context, msg *lsp.Message) error {
	params, err := decode[lsp.DidOpenTextDocumentParams](msg)
	if err != nil {
		return err
	}
	doc := params.TextDocument

	restored := h.loadSaved(ctx, doc.URI)

	var live map[uuid.UUID]struct{}
	var op bufferops.Operation
	err = h.state.Update(ctx, func(m *state.Mutable) error {
		m.Documents().Open(doc.URI, doc.Text, doc.Version)
		if len(restored) > 0 {
			m.Cache().Replace(doc.URI, restored)
		}
		m.Cache().Reconcile(doc.URI, burns.Parse(doc.Text, m.Registry(), h.logger))
		m.Cache().Touch(doc.URI)
		live = liveBurns(m, doc.URI)
		op = diagnostics.DiagnoseDocument(m.Cache(), m.Registry(), doc.URI)
		return nil
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", doc.URI, err)
	}
	h.cancelStale(doc.URI, live)
	return h.consumer.Apply(ctx, op)
}

// loadSaved returns the burns persisted for uri. Burns saved while
// streaming come back errored.
func (h *Handler) loadSaved(ctx context.Context, uri string) []*burns.Burn {
	store := h.state.Store()
	if store == nil {
		return nil
	}
	records, err := store.LoadBurns(ctx, uri)
	if err != nil {
		h.logger.Warn("loading saved burns failed", slog.String("uri", uri), slog.String("error", err.Error()))
		return nil
	}
	out := make([]*burns.Burn, 0, len(records))
	for _, r := range records {
		b, err := burns.FromRecord(r)
		if err != nil {
			h.logger.Debug("skipping saved burn", slog.String("uri", uri), slog.String("error", err.Error()))
			continue
		}
		if b.Status == burns.StatusStreaming {
			b.Status = burns.StatusErrored
			b.Err = interruptedMessage
		}
		out = append(out, b)
	}
	return out
}

func (h *Handler) didChange(ctx context.Context, msg *lsp.Message) error {
	params, err := decode[lsp.DidChangeTextDocumentParams](msg)
	if err != nil {
		return err
	}
	uri := params.TextDocument.URI
	if len(params.ContentChanges) == 0 {
		return nil
	}

	var changeErr error
	var live map[uuid.UUID]struct{}
	var op bufferops.Operation
	err = h.state.Update(ctx, func(m *state.Mutable) error {
		changeErr = h.applyChanges(m, uri, params.TextDocument.Version, params.ContentChanges)
		if _, ok := m.Documents().Get(uri); !ok {
			return nil
		}
		live = liveBurns(m, uri)
		op = diagnostics.DiagnoseDocument(m.Cache(), m.Registry(), uri)
		return nil
	})
	if err != nil {
		return fmt.Errorf("change %s: %w", uri, err)
	}

	h.cancelStale(uri, live)
	if op != nil {
		if err := h.consumer.Apply(ctx, op); err != nil {
			return err
		}
	}
	if changeErr != nil {
		return fmt.Errorf("change %s: %w", uri, changeErr)
	}
	return nil
}

// applyChanges applies changes in order. Each range is in the coordinates
// of the text left by the previous change, so the cache is invalidated and
// re-scanned after every change to stay in the same coordinates. On a bad
// change the remaining ones are skipped and the cache matches the mirror.
func (h *Handler) applyChanges(m *state.Mutable, uri string, version int, changes []lsp.TextDocumentContentChangeEvent) error {
	for _, change := range changes {
		text, err := m.Documents().Apply(uri, version, change)
		if errors.Is(err, state.ErrDocumentNotOpen) && change.Range == nil {
			m.Documents().Open(uri, change.Text, version)
			text, err = change.Text, nil
		}
		if err != nil {
			return err
		}
		if change.Range != nil {
			m.Cache().InvalidateLines(uri, change.Range.Start.Line, change.Range.End.Line)
		}
		m.Cache().Reconcile(uri, burns.Parse(text, m.Registry(), h.logger))
	}
	return nil
}

// liveBurns returns the IDs of the burns cached for uri.
func liveBurns(m *state.Mutable, uri string) map[uuid.UUID]struct{} {
	all, _ := m.Cache().AllOnDocument(uri)
	live := make(map[uuid.UUID]struct{}, len(all))
	for _, b := range all {
		live[b.ID] = struct{}{}
	}
	return live
}

// cancelStale cancels the sessions of uri whose burn did not survive a
// re-scan. The registry is the source of truth: a session may be running
// before the consumer has marked its burn streaming.
func (h *Handler) cancelStale(uri string, live map[uuid.UUID]struct{}) {
	if live == nil {
		return
	}
	n := h.sessions.CancelStale(uri, func(id uuid.UUID) bool {
		_, ok := live[id]
		return ok
	})
	if n > 0 {
		h.logger.Debug("cancelled sessions of removed burns", slog.String("uri", uri), slog.Int("cancelled", n))
	}
}

func (h *Handler) didSave(ctx context.Context, msg *lsp.Message) error {
	params, err := decode[lsp.DidSaveTextDocumentParams](msg)
	if err != nil {
		return err
	}
	uri := params.TextDocument.URI

	var text string
	var records []burns.Record
	var live map[uuid.UUID]struct{}
	var op bufferops.Operation
	err = h.state.Update(ctx, func(m *state.Mutable) error {
		if params.Text != nil {
			m.Documents().Set(uri, *params.Text)
		}
		t, ok := m.Documents().Get(uri)
		if !ok {
			return fmt.Errorf("%w: %s", state.ErrDocumentNotOpen, uri)
		}
		text = t
		m.Cache().Reconcile(uri, burns.Parse(text, m.Registry(), h.logger))
		all, _ := m.Cache().AllOnDocument(uri)
		for _, b := range all {
			records = append(records, b.Record(uri))
		}
		live = liveBurns(m, uri)
		op = diagnostics.DiagnoseDocument(m.Cache(), m.Registry(), uri)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", uri, err)
	}
	h.cancelStale(uri, live)

	if store := h.state.Store(); store != nil {
		if err := store.SaveDocument(ctx, uri, text, records); err != nil {
			return fmt.Errorf("persist %s: %w", uri, err)
		}
	}
	return h.consumer.Apply(ctx, op)
}

func (h *Handler) didClose(ctx context.Context, msg *lsp.Message) error {
	params, err := decode[lsp.DidCloseTextDocumentParams](msg)
	if err != nil {
		return err
	}
	uri := params.TextDocument.URI

	h.sessions.CancelDocument(uri)
	err = h.state.Update(ctx, func(m *state.Mutable) error {
		m.Cache().Remove(uri)
		m.Documents().Close(uri)
		return nil
	})
	if err != nil {
		return fmt.Errorf("close %s: %w", uri, err)
	}
	return h.consumer.Apply(ctx, bufferops.ClearDiagnostics{URI: uri})
}

// Diagnose republishes the diagnostics of uri.
func (h *Handler) Diagnose(ctx context.Context, uri string) error {
	v, release, err := h.state.TryRead()
	if err != nil {
		return err
	}
	op := diagnostics.DiagnoseDocument(v, v.Registry(), uri)
	release()
	return h.consumer.Apply(ctx, op)
}

// publishLater republishes diagnostics for uri from a background task.
func (h *Handler) publishLater(ctx context.Context, uri string) {
	var op bufferops.Operation
	err := h.state.Update(ctx, func(m *state.Mutable) error {
		if _, ok := m.Documents().Get(uri); !ok {
			return nil
		}
		op = diagnostics.DiagnoseDocument(m.Cache(), m.Registry(), uri)
		return nil
	})
	if err != nil || op == nil {
		return
	}
	if err := h.consumer.Apply(ctx, op); err != nil {
		h.logger.Debug("republishing diagnostics failed", slog.String("uri", uri), slog.String("error", err.Error()))
	}
}
