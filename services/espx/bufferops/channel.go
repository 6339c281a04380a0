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
	"time"
)

// DefaultCapacity is the channel capacity used when none is configured.
const DefaultCapacity = 5

// Option configures a channel.
type Option func(*Sender)

// WithSession ties the sender to a session. Sends fail with
// ErrSessionCancelled once the session is cancelled.
func WithSession(s *Session) Option {
	return func(snd *Sender) { snd.session = s }
}

// WithSendTimeout bounds how long a send waits for space. Zero waits until
// the context is done.
func WithSendTimeout(d time.Duration) Option {
	return func(snd *Sender) { snd.timeout = d }
}

// NewChannel creates a bounded channel and returns its two ends.
//
// Description:
//
//	The Sender may be shared by many producer goroutines. The Receiver has
//	exactly one consumer. A capacity below 1 uses DefaultCapacity.
//
// Inputs:
//
//	capacity - Number of items buffered before senders block.
//	opts - Session and timeout options.
//
// Outputs:
//
//	*Sender - Producer end.
//	*Receiver - Consumer end.
func NewChannel(capacity int, opts ...Option) (*Sender, *Receiver) {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	results := make(chan Result, capacity)
	gone := make(chan struct{})

	s := &Sender{
		results: results,
		gone:    gone,
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, &Receiver{results: results, gone: gone, session: s.session}
}

// Sender is the producer end of a channel.
//
// Thread Safety: Safe for concurrent use.
type Sender struct {
	// mu is held for reading during a send and for writing while the
	// underlying channel is closed, so no send races the close.
	mu       sync.RWMutex
	results  chan Result
	gone     <-chan struct{}
	closing  chan struct{}
	closed   bool
	finished atomic.Bool
	once     sync.Once

	session *Session
	timeout time.Duration
}

// Session returns the session the sender is tied to, or nil.
func (s *Sender) Session() *Session { return s.session }

// SendOperation enqueues Working(op).
//
// Description:
//
//	Blocks while the channel is full. The session flag is checked before
//	anything is enqueued.
//
// Outputs:
//
//	error - ErrSessionCancelled, ErrSenderClosed, ErrReceiverClosed or
//	        ErrBackpressureTimeout.
func (s *Sender) SendOperation(ctx context.Context, op Operation) error {
	if s.finished.Load() {
		sendFailures.WithLabelValues("sender_closed").Inc()
		return ErrSenderClosed
	}
	if s.session != nil && s.session.Cancelled() {
		sendFailures.WithLabelValues("cancelled").Inc()
		return ErrSessionCancelled
	}
	return s.send(ctx, Result{Status: Working{Op: op}}, op.Kind())
}

// SendFinish enqueues Finished. Later sends fail with ErrSenderClosed.
func (s *Sender) SendFinish(ctx context.Context) error {
	if !s.finished.CompareAndSwap(false, true) {
		sendFailures.WithLabelValues("sender_closed").Inc()
		return ErrSenderClosed
	}
	return s.send(ctx, Result{Status: Finished{}}, "finished")
}

// SendError enqueues a failed Result carrying err.
func (s *Sender) SendError(ctx context.Context, err error) error {
	if s.finished.Load() {
		sendFailures.WithLabelValues("sender_closed").Inc()
		return ErrSenderClosed
	}
	return s.send(ctx, Result{Err: err}, "error")
}

// Close drops the sender and closes the channel. Items already queued are
// still delivered. Blocked sends return ErrSenderClosed. Idempotent.
func (s *Sender) Close() {
	s.once.Do(func() {
		close(s.closing)
		s.mu.Lock()
		s.closed = true
		close(s.results)
		s.mu.Unlock()
	})
}

func (s *Sender) send(ctx context.Context, r Result, kind string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		sendFailures.WithLabelValues("sender_closed").Inc()
		return ErrSenderClosed
	}
	select {
	case <-s.gone:
		sendFailures.WithLabelValues("receiver_closed").Inc()
		return ErrReceiverClosed
	default:
	}

	select {
	case s.results <- r:
		sentTotal.WithLabelValues(kind).Inc()
		return nil
	default:
	}

	backpressureWaits.Inc()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var sessionDone <-chan struct{}
	if s.session != nil {
		sessionDone = s.session.Done()
	}

	select {
	case s.results <- r:
		sentTotal.WithLabelValues(kind).Inc()
		return nil
	case <-s.closing:
		sendFailures.WithLabelValues("sender_closed").Inc()
		return ErrSenderClosed
	case <-s.gone:
		sendFailures.WithLabelValues("receiver_closed").Inc()
		return ErrReceiverClosed
	case <-sessionDone:
		sendFailures.WithLabelValues("cancelled").Inc()
		return ErrSessionCancelled
	case <-ctx.Done():
		sendFailures.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: %v", ErrBackpressureTimeout, ctx.Err())
	}
}

// Receiver is the consumer end of a channel.
type Receiver struct {
	results <-chan Result
	gone    chan struct{}
	once    sync.Once
	session *Session
}

// C returns the receive channel. It is closed when the sender closes.
func (r *Receiver) C() <-chan Result { return r.results }

// Session returns the session of the paired sender, or nil.
func (r *Receiver) Session() *Session { return r.session }

// Close tells senders the consumer is gone. Idempotent.
func (r *Receiver) Close() {
	r.once.Do(func() { close(r.gone) })
}
