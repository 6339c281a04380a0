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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
)

// Session is one activation of a burn: a cancellation flag, a context and
// the burn it targets.
//
// Thread Safety: Safe for concurrent use.
type Session struct {
	// ID is unique per session.
	ID uuid.UUID

	// Key groups sessions that supersede each other.
	Key string

	// URI and BurnID identify the target burn. BurnID is uuid.Nil for
	// sessions without one.
	URI    string
	BurnID uuid.UUID

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewSession creates a standalone session derived from parent.
func NewSession(parent context.Context, key, uri string, burnID uuid.UUID) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:     uuid.New(),
		Key:    key,
		URI:    uri,
		BurnID: burnID,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the session context. It is done once the session is
// cancelled.
func (s *Session) Context() context.Context { return s.ctx }

// Done is shorthand for Context().Done().
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Cancel sets the cancellation flag and cancels the context. Idempotent.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// SessionKey builds the supersession key for a burn: a new activation of
// the same burn cancels the previous one, wherever edits have moved it.
func SessionKey(scope interact.Scope, uri string, burnID uuid.UUID) string {
	if scope == interact.Document {
		return fmt.Sprintf("document:%s:%s", uri, burnID)
	}
	return fmt.Sprintf("scope-%02x:%s:%s", byte(scope), uri, burnID)
}

// SessionRegistry tracks the live session per key.
//
// Thread Safety: Safe for concurrent use.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Begin registers a new session under key, cancelling the session it
// supersedes.
func (r *SessionRegistry) Begin(parent context.Context, key, uri string, burnID uuid.UUID) *Session {
	s := NewSession(parent, key, uri, burnID)

	r.mu.Lock()
	prev, ok := r.sessions[key]
	r.sessions[key] = s
	r.mu.Unlock()

	if ok {
		prev.Cancel()
		sessionsCancelled.WithLabelValues("superseded").Inc()
	} else {
		sessionsActive.Inc()
	}
	return s
}

// End unregisters s if it is still the live session for its key. The
// session is not cancelled.
func (r *SessionRegistry) End(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.Key]; ok && cur == s {
		delete(r.sessions, s.Key)
		sessionsActive.Dec()
	}
}

// Cancel cancels and unregisters the session under key and returns it.
func (r *SessionRegistry) Cancel(key string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
		sessionsActive.Dec()
	}
	r.mu.Unlock()

	if ok {
		s.Cancel()
		sessionsCancelled.WithLabelValues("explicit").Inc()
	}
	return s, ok
}

// CancelDocument cancels every session targeting uri and returns how many
// were cancelled.
func (r *SessionRegistry) CancelDocument(uri string) int {
	return r.cancelWhere("document_closed", func(s *Session) bool { return s.URI == uri })
}

// CancelStale cancels every session of uri whose burn is not live. Sessions
// without a burn are kept.
func (r *SessionRegistry) CancelStale(uri string, live func(burnID uuid.UUID) bool) int {
	return r.cancelWhere("burn_removed", func(s *Session) bool {
		return s.URI == uri && s.BurnID != uuid.Nil && !live(s.BurnID)
	})
}

// CancelAll cancels every session.
func (r *SessionRegistry) CancelAll() int {
	return r.cancelWhere("shutdown", func(*Session) bool { return true })
}

// Active returns the number of registered sessions.
func (r *SessionRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) cancelWhere(reason string, match func(*Session) bool) int {
	r.mu.Lock()
	var victims []*Session
	for key, s := range r.sessions {
		if match(s) {
			victims = append(victims, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.Cancel()
		sessionsActive.Dec()
		sessionsCancelled.WithLabelValues(reason).Inc()
	}
	return len(victims)
}
