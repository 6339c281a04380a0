// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bufferops

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

type call struct {
	method string
	params any
}

type fakeClient struct {
	mu       sync.Mutex
	notes    []call
	calls    []call
	applied  bool
	callErr  error
	notifyFn func(method string) error
}

func (f *fakeClient) Notify(method string, params any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, call{method, params})
	if f.notifyFn != nil {
		return f.notifyFn(method)
	}
	return nil
}

func (f *fakeClient) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method, params})
	if f.callErr != nil {
		return nil, f.callErr
	}
	if method == "workspace/applyEdit" {
		return json.Marshal(lsp.ApplyWorkspaceEditResult{Applied: f.applied, FailureReason: "nope"})
	}
	return json.RawMessage("null"), nil
}

func (f *fakeClient) notifications() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.notes...)
}

type statusChange struct {
	status burns.Status
	msg    string
}

type fakeSink struct {
	mu       sync.Mutex
	chunks   []string
	statuses []statusChange
	runs     []uuid.UUID
	edit     lsp.WorkspaceEdit
	editErr  error
}

func (s *fakeSink) AppendResponse(_ context.Context, _ string, _, run uuid.UUID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, text)
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeSink) SetBurnStatus(_ context.Context, _ string, _, run uuid.UUID, status burns.Status, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statusChange{status, msg})
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeSink) ResponseEdit(_ context.Context, _ string, _, _ uuid.UUID, _ string) (lsp.WorkspaceEdit, error) {
	return s.edit, s.editErr
}

func TestConsumer_AppliesInOrderUntilFinished(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	c := NewConsumer(client, nil, nil)
	tx, rx := NewChannel(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, tx.SendOperation(ctx, show(i)))
	}
	require.NoError(t, tx.SendFinish(ctx))

	sum, err := c.Run(ctx, rx)
	require.NoError(t, err)
	assert.True(t, sum.Finished)
	assert.Equal(t, 5, sum.Applied)

	notes := client.notifications()
	require.Len(t, notes, 5)
	for i, n := range notes {
		assert.Equal(t, "window/showMessage", n.method)
		assert.Equal(t, lsp.ShowMessageParams{Type: lsp.MessageInfo, Message: show(i).Message}, n.params)
	}

	assert.ErrorIs(t, tx.SendOperation(ctx, show(9)), ErrSenderClosed)
}

func TestConsumer_ClosedChannelIsImplicitFinish(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{}
	session := NewSession(ctx, "k", "file:///a", uuid.New())
	c := NewConsumer(&fakeClient{}, sink, nil)
	tx, rx := NewChannel(4, WithSession(session))

	require.NoError(t, tx.SendOperation(ctx, StreamChunk{URI: "file:///a", BurnID: session.BurnID, Text: "he"}))
	require.NoError(t, tx.SendOperation(ctx, StreamChunk{URI: "file:///a", BurnID: session.BurnID, Text: "llo"}))
	tx.Close()

	sum, err := c.Run(ctx, rx)
	require.NoError(t, err)
	assert.True(t, sum.Finished)
	assert.Equal(t, []string{"he", "llo"}, sink.chunks)
	assert.Equal(t, []statusChange{{burns.StatusDone, ""}}, sink.statuses)
	assert.Equal(t, session.ID, sink.runs[len(sink.runs)-1], "finish reports as the session run")
}

func TestConsumer_ProducerError(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	sink := &fakeSink{}
	session := NewSession(ctx, "k", "file:///a", uuid.New())
	c := NewConsumer(client, sink, nil)
	tx, rx := NewChannel(2, WithSession(session))

	require.NoError(t, tx.SendError(ctx, errors.New("provider down")))
	tx.Close()

	sum, err := c.Run(ctx, rx)
	require.NoError(t, err)
	assert.EqualError(t, sum.Err, "provider down")
	assert.Equal(t, []statusChange{{burns.StatusErrored, "provider down"}}, sink.statuses)

	notes := client.notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, lsp.ShowMessageParams{Type: lsp.MessageError, Message: "provider down"}, notes[0].params)
}

func TestConsumer_DiscardsCancelledSession(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	sink := &fakeSink{}
	session := NewSession(ctx, "k", "file:///a", uuid.New())
	c := NewConsumer(client, sink, nil)
	tx, rx := NewChannel(3, WithSession(session))

	require.NoError(t, tx.SendOperation(ctx, show(0)))
	require.NoError(t, tx.SendOperation(ctx, show(1)))
	session.Cancel()
	tx.Close()

	sum, err := c.Run(ctx, rx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Discarded)
	assert.Zero(t, sum.Applied)
	assert.Empty(t, client.notifications())
	assert.Empty(t, sink.statuses)
}

func TestConsumer_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tx, rx := NewChannel(1)
	c := NewConsumer(&fakeClient{}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, rx)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	assert.ErrorIs(t, tx.SendOperation(context.Background(), show(0)), ErrReceiverClosed)
}

func TestConsumer_ApplyFailureContinues(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{notifyFn: func(m string) error {
		if m == "window/logMessage" {
			return errors.New("pipe closed")
		}
		return nil
	}}
	c := NewConsumer(client, nil, nil)
	tx, rx := NewChannel(3)

	require.NoError(t, tx.SendOperation(ctx, LogMessage{Type: lsp.MessageLog, Message: "x"}))
	require.NoError(t, tx.SendOperation(ctx, show(1)))
	require.NoError(t, tx.SendFinish(ctx))

	sum, err := c.Run(ctx, rx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Applied)
	assert.Len(t, client.notifications(), 2)
}

func TestConsumer_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("clear diagnostics publishes empty list", func(t *testing.T) {
		client := &fakeClient{}
		require.NoError(t, NewConsumer(client, nil, nil).Apply(ctx, ClearDiagnostics{URI: "file:///a"}))
		params := client.notes[0].params.(lsp.PublishDiagnosticsParams)
		assert.Equal(t, "textDocument/publishDiagnostics", client.notes[0].method)
		assert.NotNil(t, params.Diagnostics)
		assert.Empty(t, params.Diagnostics)

		raw, err := json.Marshal(params)
		require.NoError(t, err)
		assert.JSONEq(t, `{"uri":"file:///a","diagnostics":[]}`, string(raw))
	})

	t.Run("apply edit accepted", func(t *testing.T) {
		client := &fakeClient{applied: true}
		err := NewConsumer(client, nil, nil).Apply(ctx, ApplyEdit{Label: "insert"})
		require.NoError(t, err)
		assert.Equal(t, "workspace/applyEdit", client.calls[0].method)
	})

	t.Run("apply edit rejected", func(t *testing.T) {
		client := &fakeClient{applied: false}
		err := NewConsumer(client, nil, nil).Apply(ctx, ApplyEdit{Label: "insert"})
		assert.ErrorContains(t, err, "nope")
	})

	t.Run("work done begin creates token", func(t *testing.T) {
		client := &fakeClient{}
		c := NewConsumer(client, nil, nil)
		require.NoError(t, c.Apply(ctx, WorkDone{Token: "t1", Phase: WorkDoneBegin, Title: "Prompt"}))
		require.NoError(t, c.Apply(ctx, WorkDone{Token: "t1", Phase: WorkDoneEnd}))

		require.Len(t, client.calls, 1)
		assert.Equal(t, "window/workDoneProgress/create", client.calls[0].method)
		require.Len(t, client.notes, 2)
		assert.Equal(t, lsp.ProgressParams{Token: "t1", Value: lsp.WorkDoneProgressBegin{Kind: "begin", Title: "Prompt"}}, client.notes[0].params)
		assert.Equal(t, lsp.ProgressParams{Token: "t1", Value: lsp.WorkDoneProgressEnd{Kind: "end"}}, client.notes[1].params)
	})

	t.Run("work done create failure", func(t *testing.T) {
		client := &fakeClient{callErr: errors.New("no")}
		err := NewConsumer(client, nil, nil).Apply(ctx, WorkDone{Token: "t", Phase: WorkDoneBegin})
		assert.Error(t, err)
		assert.Empty(t, client.notes)
	})

	t.Run("burn status reaches sink", func(t *testing.T) {
		sink := &fakeSink{}
		run := uuid.New()
		err := NewConsumer(&fakeClient{}, sink, nil).Apply(ctx, BurnStatus{Run: run, Status: burns.StatusStreaming})
		require.NoError(t, err)
		assert.Equal(t, []statusChange{{burns.StatusStreaming, ""}}, sink.statuses)
		assert.Equal(t, []uuid.UUID{run}, sink.runs)
	})

	t.Run("insert response resolves edit through sink", func(t *testing.T) {
		edit := lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
			"file:///a": {{Range: lsp.Range{Start: lsp.Position{Line: 4}, End: lsp.Position{Line: 4}}, NewText: "// x\n"}},
		}}
		client := &fakeClient{applied: true}
		err := NewConsumer(client, &fakeSink{edit: edit}, nil).Apply(ctx, InsertResponse{URI: "file:///a", Label: "espx", Response: "x"})
		require.NoError(t, err)
		require.Len(t, client.calls, 1)
		assert.Equal(t, lsp.ApplyWorkspaceEditParams{Label: "espx", Edit: edit}, client.calls[0].params)
	})

	t.Run("insert response for a removed burn sends no edit", func(t *testing.T) {
		client := &fakeClient{applied: true}
		sink := &fakeSink{editErr: &burns.NotPresentError{URI: "file:///a", Granularity: burns.GranularityPosition}}
		err := NewConsumer(client, sink, nil).Apply(ctx, InsertResponse{URI: "file:///a", Response: "x"})
		assert.ErrorIs(t, err, burns.ErrNotPresent)
		assert.Empty(t, client.calls)
	})
}
