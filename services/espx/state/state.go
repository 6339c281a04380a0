// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state owns everything the request loop and background tasks
// share: the burn cache, the document mirror, the marker registry, the
// optional database and the agent.
//
// The cache, mirror and database sit behind one RWMutex that is only ever
// acquired without blocking. The request loop must stay responsive while a
// background task appends streamed output, so contention is reported to
// the caller as *LockContentionError instead of queuing. Background tasks
// use RetryWrite. The agent has its own lock.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/agent"
	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/database"
	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// Config tunes lock retries.
type Config struct {
	// RetryAttempts bounds RetryWrite attempts made on behalf of
	// background tasks. Default 20.
	RetryAttempts int

	// RetryBackoff is the pause between attempts. Default 25ms.
	RetryBackoff time.Duration
}

// DefaultConfig returns the default retry settings.
func DefaultConfig() Config {
	return Config{RetryAttempts: 20, RetryBackoff: 25 * time.Millisecond}
}

// Deps are the collaborators handed to New.
type Deps struct {
	// Registry maps markers. Nil uses a registry with the built-ins.
	Registry *interact.Registry

	// Store persists documents and burns. Optional.
	Store *database.Store

	// Agent answers prompts. Optional; may be set later with SetAgent.
	Agent *agent.Agent

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SharedState is the single owned state object of the server.
//
// Thread Safety: Safe for concurrent use through TryRead, TryWrite,
// RetryWrite and Agent.
type SharedState struct {
	cfg    Config
	logger *slog.Logger

	registry *interact.Registry

	mu    sync.RWMutex
	cache *burns.Cache
	docs  *Documents
	store *database.Store

	agentMu sync.Mutex
	agent   *agent.Agent

	shutdown atomic.Bool
}

// New creates the shared state.
func New(cfg Config, deps Deps) *SharedState {
	def := DefaultConfig()
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if deps.Registry == nil {
		deps.Registry = interact.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &SharedState{
		cfg:      cfg,
		logger:   deps.Logger,
		registry: deps.Registry,
		cache:    burns.NewCache(),
		docs:     NewDocuments(),
		store:    deps.Store,
		agent:    deps.Agent,
	}
}

// Registry returns the marker registry. It is safe for concurrent use and
// needs no state lock.
func (s *SharedState) Registry() *interact.Registry { return s.registry }

// Store returns the database store, or nil. The store is safe for
// concurrent use and needs no state lock.
func (s *SharedState) Store() *database.Store { return s.store }

// View is read access to the locked state. It is valid until released.
type View struct {
	s *SharedState
}

// GetByPosition looks up the burn at pos.
func (v *View) GetByPosition(uri string, pos lsp.Position) (*burns.Burn, error) {
	return v.s.cache.GetByPosition(uri, pos)
}

// AllOnDocument returns every burn of uri.
func (v *View) AllOnDocument(uri string) ([]*burns.Burn, bool) {
	return v.s.cache.AllOnDocument(uri)
}

// FindBurn returns the burn with id in uri.
func (v *View) FindBurn(uri string, id uuid.UUID) (*burns.Burn, bool) {
	return v.s.cache.Find(uri, id)
}

// Text returns the mirrored text of uri.
func (v *View) Text(uri string) (string, bool) {
	return v.s.docs.Get(uri)
}

// OpenDocuments lists mirrored documents.
func (v *View) OpenDocuments() []string {
	return v.s.docs.URIs()
}

// Registry returns the marker registry.
func (v *View) Registry() *interact.Registry { return v.s.registry }

// Store returns the database store, or nil.
func (v *View) Store() *database.Store { return v.s.store }

// Mutable is write access to the locked state. It is valid until released.
type Mutable struct {
	View
}

// Cache returns the burn cache.
func (m *Mutable) Cache() *burns.Cache { return m.s.cache }

// Documents returns the document mirror.
func (m *Mutable) Documents() *Documents { return m.s.docs }

// TryRead acquires the read lock without blocking.
//
// Outputs:
//
//	*View - Read access, valid until release is called.
//	func() - Release. Call exactly once.
//	error - *LockContentionError while a writer holds the lock, or
//	        ErrShutdown.
func (s *SharedState) TryRead() (*View, func(), error) {
	if s.shutdown.Load() {
		return nil, nil, ErrShutdown
	}
	if !s.mu.TryRLock() {
		lockContention.WithLabelValues(ModeRead.String()).Inc()
		return nil, nil, &LockContentionError{Mode: ModeRead}
	}
	return &View{s: s}, s.mu.RUnlock, nil
}

// TryWrite acquires the write lock without blocking.
//
// Outputs:
//
//	*Mutable - Write access, valid until release is called.
//	func() - Release. Call exactly once.
//	error - *LockContentionError while any reader or writer holds the
//	        lock, or ErrShutdown.
func (s *SharedState) TryWrite() (*Mutable, func(), error) {
	if s.shutdown.Load() {
		return nil, nil, ErrShutdown
	}
	if !s.mu.TryLock() {
		lockContention.WithLabelValues(ModeWrite.String()).Inc()
		return nil, nil, &LockContentionError{Mode: ModeWrite}
	}
	return &Mutable{View{s: s}}, s.mu.Unlock, nil
}

// RetryWrite runs fn under the write lock, retrying contention up to
// attempts times with backoff between tries.
//
// Description:
//
//	For background tasks only. The lock is released before RetryWrite
//	returns, including when fn panics.
//
// Outputs:
//
//	error - fn's error, ctx.Err(), ErrShutdown, or the last
//	        *LockContentionError once attempts are exhausted.
func (s *SharedState) RetryWrite(ctx context.Context, attempts int, backoff time.Duration, fn func(*Mutable) error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		m, release, err := s.TryWrite()
		if err == nil {
			defer release()
			return fn(m)
		}
		if !errors.Is(err, ErrLockContention) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if lastErr == nil {
		lastErr = &LockContentionError{Mode: ModeWrite}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// Update is RetryWrite with the configured attempts and backoff.
func (s *SharedState) Update(ctx context.Context, fn func(*Mutable) error) error {
	return s.RetryWrite(ctx, s.cfg.RetryAttempts, s.cfg.RetryBackoff, fn)
}

// Agent locks and returns the agent.
//
// Outputs:
//
//	*agent.Agent - The agent, valid until release is called.
//	func() - Release. Call exactly once; do not hold it across a stream.
//	error - ErrNoAgent when none is configured.
func (s *SharedState) Agent() (*agent.Agent, func(), error) {
	s.agentMu.Lock()
	if s.agent == nil {
		s.agentMu.Unlock()
		return nil, nil, ErrNoAgent
	}
	return s.agent, s.agentMu.Unlock, nil
}

// SetAgent installs a, replacing any previous agent.
func (s *SharedState) SetAgent(a *agent.Agent) {
	s.agentMu.Lock()
	s.agent = a
	s.agentMu.Unlock()
}

// Shutdown waits for the write lock, marks the state closed and closes the
// store. Later acquisitions fail with ErrShutdown.
func (s *SharedState) Shutdown(ctx context.Context) error {
	for {
		if s.mu.TryLock() {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown: %w", ctx.Err())
		case <-time.After(s.cfg.RetryBackoff):
		}
	}
	defer s.mu.Unlock()

	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	s.logger.Debug("shared state shut down")
	return nil
}
