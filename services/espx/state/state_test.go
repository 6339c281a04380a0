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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidKandy/espx-ls-sub001/services/espx/agent"
	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/database"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

func newTestState(t *testing.T) *SharedState {
	t.Helper()
	return New(Config{RetryAttempts: 5, RetryBackoff: time.Millisecond}, Deps{})
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{}, Deps{})
	assert.Equal(t, DefaultConfig(), s.cfg)
	assert.NotNil(t, s.Registry())
	assert.NotNil(t, s.logger)
}

func TestTryWrite_HeldWriterBlocksEveryone(t *testing.T) {
	s := newTestState(t)

	_, release, err := s.TryWrite()
	require.NoError(t, err)

	_, _, err = s.TryRead()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockContention)
	var lce *LockContentionError
	require.True(t, errors.As(err, &lce))
	assert.Equal(t, ModeRead, lce.Mode)

	_, _, err = s.TryWrite()
	assert.ErrorIs(t, err, ErrLockContention)

	release()

	_, rrelease, err := s.TryRead()
	require.NoError(t, err)
	rrelease()
}

func TestTryRead_ReadersShare(t *testing.T) {
	s := newTestState(t)

	_, r1, err := s.TryRead()
	require.NoError(t, err)
	_, r2, err := s.TryRead()
	require.NoError(t, err)

	_, _, err = s.TryWrite()
	assert.ErrorIs(t, err, ErrLockContention)

	r1()
	r2()

	_, w, err := s.TryWrite()
	require.NoError(t, err)
	w()
}

func TestTryWrite_ReturnsImmediately(t *testing.T) {
	s := newTestState(t)
	_, release, err := s.TryWrite()
	require.NoError(t, err)
	defer release()

	start := time.Now()
	for i := 0; i < 100; i++ {
		_, _, err := s.TryRead()
		require.ErrorIs(t, err, ErrLockContention)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("runs fn", func(t *testing.T) {
		s := newTestState(t)
		called := false
		err := s.RetryWrite(ctx, 1, time.Millisecond, func(m *Mutable) error {
			called = true
			m.Documents().Open("file:///a", "x", 1)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)

		v, release, err := s.TryRead()
		require.NoError(t, err)
		defer release()
		text, ok := v.Text("file:///a")
		assert.True(t, ok)
		assert.Equal(t, "x", text)
	})

	t.Run("returns fn error and releases", func(t *testing.T) {
		s := newTestState(t)
		boom := errors.New("boom")
		err := s.RetryWrite(ctx, 1, time.Millisecond, func(*Mutable) error { return boom })
		assert.ErrorIs(t, err, boom)

		_, release, err := s.TryWrite()
		require.NoError(t, err)
		release()
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		s := newTestState(t)
		_, release, err := s.TryRead()
		require.NoError(t, err)
		defer release()

		err = s.RetryWrite(ctx, 3, time.Millisecond, func(*Mutable) error { return nil })
		assert.ErrorIs(t, err, ErrLockContention)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})

	t.Run("succeeds once released", func(t *testing.T) {
		s := newTestState(t)
		_, release, err := s.TryRead()
		require.NoError(t, err)
		time.AfterFunc(20*time.Millisecond, release)

		err = s.RetryWrite(ctx, 200, 5*time.Millisecond, func(*Mutable) error { return nil })
		assert.NoError(t, err)
	})

	t.Run("context cancelled", func(t *testing.T) {
		s := newTestState(t)
		_, release, err := s.TryRead()
		require.NoError(t, err)
		defer release()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err = s.RetryWrite(cctx, 100, time.Second, func(*Mutable) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestUpdate_ConcurrentWriters(t *testing.T) {
	s := New(Config{RetryAttempts: 1000, RetryBackoff: time.Millisecond}, Deps{})
	const uri = "file:///c"
	b := burns.New(0, &burns.SingleLine{}, "p", "")
	require.NoError(t, s.Update(context.Background(), func(m *Mutable) error {
		m.Cache().Save(uri, b)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendResponse(context.Background(), uri, b.ID, uuid.Nil, "x"))
		}()
	}
	wg.Wait()

	v, release, err := s.TryRead()
	require.NoError(t, err)
	defer release()
	got, ok := v.FindBurn(uri, b.ID)
	require.True(t, ok)
	assert.Len(t, got.Response, 20)
}

func TestView_Lookups(t *testing.T) {
	s := newTestState(t)
	const uri = "file:///v"
	text := "// @_ hello\n"
	require.NoError(t, s.Update(context.Background(), func(m *Mutable) error {
		m.Documents().Open(uri, text, 1)
		m.Cache().Replace(uri, burns.Parse(text, m.Registry(), nil))
		return nil
	}))

	v, release, err := s.TryRead()
	require.NoError(t, err)
	defer release()

	b, err := v.GetByPosition(uri, lsp.Position{Line: 0, Character: 4})
	require.NoError(t, err)
	assert.Equal(t, "hello", b.Payload)

	all, ok := v.AllOnDocument(uri)
	assert.True(t, ok)
	assert.Len(t, all, 1)
	assert.Equal(t, []string{uri}, v.OpenDocuments())
	assert.Nil(t, v.Store())
}

func TestAgent(t *testing.T) {
	s := newTestState(t)

	_, _, err := s.Agent()
	assert.ErrorIs(t, err, ErrNoAgent)

	s.SetAgent(agent.New(nil, agent.Options{}))
	a, release, err := s.Agent()
	require.NoError(t, err)
	require.NotNil(t, a)

	// The agent lock is independent of the state lock.
	_, wrelease, err := s.TryWrite()
	require.NoError(t, err)
	wrelease()

	acquired := make(chan struct{})
	go func() {
		_, r, err := s.Agent()
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("agent lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("agent lock not acquired after release")
	}
}

func TestShutdown(t *testing.T) {
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	s := New(Config{RetryBackoff: time.Millisecond}, Deps{Store: database.NewStore(db)})

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))

	_, _, err = s.TryRead()
	assert.ErrorIs(t, err, ErrShutdown)
	_, _, err = s.TryWrite()
	assert.ErrorIs(t, err, ErrShutdown)
	err = s.Update(context.Background(), func(*Mutable) error { return nil })
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdown_WaitsForHolder(t *testing.T) {
	s := newTestState(t)
	_, release, err := s.TryRead()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	release()
	assert.NoError(t, s.Shutdown(context.Background()))
}
