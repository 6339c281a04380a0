// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package control serves the side channel on a Unix socket.
//
// Each line is a JSON message {"method": ..., "params": ...}. Lines are
// untrusted: they are size-limited, validated and rate limited before they
// reach the Handler, which runs the same entry points as the LSP
// handlers. Every line gets one Response line.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Handler runs control requests.
type Handler interface {
	// Activate fulfils the burn at (line, character) in uri.
	Activate(ctx context.Context, uri string, line, character int) error

	// Cancel cancels the session on line in uri, or every session of uri
	// when line is negative. It returns the number cancelled.
	Cancel(ctx context.Context, uri string, line int) (int, error)

	// Diagnose republishes the diagnostics of uri.
	Diagnose(ctx context.Context, uri string) error
}

// Config configures the server.
type Config struct {
	// SocketPath is the Unix socket. A stale file is removed on Listen.
	SocketPath string

	// Rate is messages per second across all connections.
	Rate float64

	// Burst is the limiter burst.
	Burst int

	// IdleTimeout closes connections that send nothing. Zero disables it.
	IdleTimeout time.Duration
}

// Server accepts control connections.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	cfg     Config
	handler Handler
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a server dispatching to h.
func NewServer(cfg Config, h Handler, logger *slog.Logger) *Server {
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: h,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		logger:  logger.With("component", "control", "socket", cfg.SocketPath),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrServerStarted
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.cfg.SocketPath, err)
	}
	s.listener = ln
	s.logger.Info("control socket listening")
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("control: serve before listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.serveConn(ctx, conn)
		}()
	}
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Addr returns the socket path once listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting, closes open connections and removes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	for c := range s.conns {
		_ = c.Close()
	}
	if rmErr := os.Remove(s.cfg.SocketPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) track(c net.Conn, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		if s.listener == nil {
			_ = c.Close()
			return
		}
		s.conns[c] = struct{}{}
		connectionsActive.Inc()
		return
	}
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		connectionsActive.Dec()
	}
	_ = c.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	enc := json.NewEncoder(conn)

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("control connection ended", "error", err)
				_ = enc.Encode(Response{Error: fmt.Sprintf("%v: %v", ErrInvalidMessage, err)})
			}
			return
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.Dispatch(ctx, line)
		if err := enc.Encode(resp); err != nil {
			s.logger.Debug("control write failed", "error", err)
			return
		}
	}
}

// Dispatch handles one raw line and returns its response.
func (s *Server) Dispatch(ctx context.Context, line []byte) Response {
	if !s.limiter.Allow() {
		requestsTotal.WithLabelValues("unknown", "rate_limited").Inc()
		return Response{Error: ErrRateLimited.Error()}
	}

	msg, err := DecodeMessage(line)
	if err != nil {
		requestsTotal.WithLabelValues("unknown", "invalid").Inc()
		s.logger.Debug("control message rejected", "error", err)
		return Response{Error: err.Error()}
	}

	result, err := s.run(ctx, msg)
	if err != nil {
		label := "error"
		if errors.Is(err, ErrInvalidMessage) {
			label = "invalid"
		}
		requestsTotal.WithLabelValues(msg.Method, label).Inc()
		return Response{Error: err.Error()}
	}
	requestsTotal.WithLabelValues(msg.Method, "ok").Inc()
	return Response{OK: true, Result: result}
}

func (s *Server) run(ctx context.Context, msg Message) (any, error) {
	switch msg.Method {
	case MethodPing:
		return "pong", nil

	case MethodActivate:
		var p ActivateParams
		if err := DecodeParams(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.handler.Activate(ctx, p.URI, p.Line, p.Character)

	case MethodCancel:
		var p CancelParams
		if err := DecodeParams(msg, &p); err != nil {
			return nil, err
		}
		line := -1
		if p.Line != nil {
			line = *p.Line
		}
		n, err := s.handler.Cancel(ctx, p.URI, line)
		if err != nil {
			return nil, err
		}
		return map[string]int{"cancelled": n}, nil

	case MethodDiagnose:
		var p DiagnoseParams
		if err := DecodeParams(msg, &p); err != nil {
			return nil, err
		}
		return nil, s.handler.Diagnose(ctx, p.URI)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, msg.Method)
	}
}
