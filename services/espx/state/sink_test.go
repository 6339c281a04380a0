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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
)

func seedBurn(t *testing.T, s *SharedState, uri string) *burns.Burn {
	t.Helper()
	b := burns.New(0, &burns.SingleLine{}, "p", "")
	require.NoError(t, s.Update(context.Background(), func(m *Mutable) error {
		m.Cache().Save(uri, b)
		return nil
	}))
	return b
}

func TestSink_StatusLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	const uri = "file:///s"
	b := seedBurn(t, s, uri)
	run := uuid.New()

	require.NoError(t, s.SetBurnStatus(ctx, uri, b.ID, run, burns.StatusStreaming, ""))
	require.NoError(t, s.SetBurnStatus(ctx, uri, b.ID, run, burns.StatusStreaming, ""))
	require.NoError(t, s.AppendResponse(ctx, uri, b.ID, run, "hi "))
	require.NoError(t, s.AppendResponse(ctx, uri, b.ID, run, "there"))
	require.NoError(t, s.SetBurnStatus(ctx, uri, b.ID, run, burns.StatusErrored, "timeout"))

	assert.Equal(t, burns.StatusErrored, b.Status)
	assert.Equal(t, "hi there", b.Response)
	assert.Equal(t, "timeout", b.Err)
	assert.Equal(t, run, b.Run)

	err := s.SetBurnStatus(ctx, uri, b.ID, uuid.Nil, burns.StatusDone, "")
	assert.ErrorIs(t, err, burns.ErrInvalidTransition)
}

func TestSink_RepeatedStreamingClearsResponse(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	const uri = "file:///r"
	b := seedBurn(t, s, uri)
	first, second := uuid.New(), uuid.New()

	require.NoError(t, s.SetBurnStatus(ctx, uri, b.ID, first, burns.StatusStreaming, ""))
	require.NoError(t, s.AppendResponse(ctx, uri, b.ID, first, "stale"))
	require.NoError(t, s.SetBurnStatus(ctx, uri, b.ID, second, burns.StatusStreaming, ""))
	require.NoError(t, s.AppendResponse(ctx, uri, b.ID, second, "fresh"))

	assert.Equal(t, "fresh", b.Response)
}

func TestSink_RejectsSupersededRun(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	const uri = "file:///o"
	b := seedBurn(t, s, uri)
	old, current := uuid.New(), uuid.New()

	require.NoError(t, s.SetBurnStatus(ctx, uri, b.ID, old, burns.StatusStreaming, ""))
	require.NoError(t, s.SetBurnStatus(ctx, uri, b.ID, current, burns.StatusStreaming, ""))

	err := s.AppendResponse(ctx, uri, b.ID, old, "late")
	assert.ErrorIs(t, err, burns.ErrStaleRun)
	err = s.SetBurnStatus(ctx, uri, b.ID, old, burns.StatusDone, "")
	assert.ErrorIs(t, err, burns.ErrStaleRun)
	_, err = s.ResponseEdit(ctx, uri, b.ID, old, "late")
	assert.ErrorIs(t, err, burns.ErrStaleRun)

	assert.Empty(t, b.Response)
	assert.Equal(t, burns.StatusStreaming, b.Status)

	require.NoError(t, s.SetBurnStatus(ctx, uri, b.ID, current, burns.StatusDone, ""))
	assert.Equal(t, burns.StatusDone, b.Status)
}

func TestSink_ResponseEditUsesCurrentPosition(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)
	const uri = "file:///e.go"
	reg := s.Registry()
	run := uuid.New()

	require.NoError(t, s.Update(ctx, func(m *Mutable) error {
		m.Documents().Open(uri, "// @_ q\ncode\n", 1)
		m.Cache().Reconcile(uri, burns.Parse("// @_ q\ncode\n", reg, nil))
		return nil
	}))
	var id uuid.UUID
	require.NoError(t, s.Update(ctx, func(m *Mutable) error {
		all, _ := m.Cache().AllOnDocument(uri)
		require.Len(t, all, 1)
		id = all[0].ID
		return nil
	}))
	require.NoError(t, s.SetBurnStatus(ctx, uri, id, run, burns.StatusStreaming, ""))

	// Two lines inserted above the burn move it to line 2.
	const moved = "a\nb\n// @_ q\ncode\n"
	require.NoError(t, s.Update(ctx, func(m *Mutable) error {
		m.Documents().Set(uri, moved)
		m.Cache().Reconcile(uri, burns.Parse(moved, reg, nil))
		return nil
	}))

	edit, err := s.ResponseEdit(ctx, uri, id, run, "answer")
	require.NoError(t, err)
	edits := edit.Changes[uri]
	require.Len(t, edits, 1)
	assert.Equal(t, 3, edits[0].Range.Start.Line)
	assert.Equal(t, "// answer\n", edits[0].NewText)

	_, err = s.ResponseEdit(ctx, "file:///gone", id, run, "x")
	assert.ErrorIs(t, err, burns.ErrNotPresent)
}

func TestSink_MissingBurn(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	err := s.AppendResponse(ctx, "file:///none", uuid.New(), uuid.Nil, "x")
	assert.ErrorIs(t, err, burns.ErrNotPresent)
	err = s.SetBurnStatus(ctx, "file:///none", uuid.New(), uuid.Nil, burns.StatusDone, "")
	assert.ErrorIs(t, err, burns.ErrNotPresent)
	err = s.SetBurnStatus(ctx, "file:///none", uuid.New(), uuid.New(), burns.StatusStreaming, "")
	assert.ErrorIs(t, err, burns.ErrNotPresent)
}
