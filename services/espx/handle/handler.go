// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handle dispatches LSP traffic against the shared state and runs
// burn commands in the background.
//
// The read loop calls Handle for every inbound message. Handlers never
// block on the state lock: hover and code actions answer busy under
// contention, document sync retries with bounded backoff, and commands
// hand their work to a producer and a consumer goroutine connected by a
// bufferops channel. Errors and panics are reported to the editor as
// window/showMessage; requests also receive a JSON-RPC error.
package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voidKandy/espx-ls-sub001/services/espx/agent"
	"github.com/voidKandy/espx-ls-sub001/services/espx/bufferops"
	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/config"
	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
	"github.com/voidKandy/espx-ls-sub001/services/espx/state"
	"github.com/voidKandy/espx-ls-sub001/services/espx/telemetry"
)

// Commands offered through workspace/executeCommand.
const (
	CommandActivate = "espx.activate"
	CommandCancel   = "espx.cancel"
)

// StartupMessage is shown once the client reports initialized.
const StartupMessage = "Espx LS Running"

// Settings are the tunables that config hot reload may change.
type Settings struct {
	// ChannelCapacity bounds each command's buffer channel.
	ChannelCapacity int

	// SendTimeout bounds one blocked send. Zero waits for ctx only.
	SendTimeout time.Duration

	// InsertResponses inserts prompt responses below their burn.
	InsertResponses bool
}

// SettingsFrom extracts Settings from a config.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		ChannelCapacity: cfg.Commands.ChannelCapacity,
		SendTimeout:     cfg.Commands.SendTimeout.Std(),
		InsertResponses: cfg.Commands.InsertResponses,
	}
}

// Options configure a Handler.
type Options struct {
	// Settings are the initial tunables.
	Settings Settings

	// Name and Version are reported in the initialize result.
	Name    string
	Version string

	// OnInitialize is called with the workspace root path after the
	// initialize request. Optional.
	OnInitialize func(root string)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Handler serves the LSP methods and the control socket.
//
// Thread Safety: Handle must be called from the read loop only. Activate,
// Cancel and Diagnose are safe for concurrent use.
type Handler struct {
	state    *state.SharedState
	client   bufferops.Client
	consumer *bufferops.Consumer
	sessions *bufferops.SessionRegistry
	logger   *slog.Logger
	opts     Options

	settings atomic.Pointer[Settings]

	// ctx outlives individual requests; background tasks derive from it.
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	rootMu sync.RWMutex
	root   string

	initialized  atomic.Bool
	shuttingDown atomic.Bool
}

// New creates a handler writing to client.
func New(st *state.SharedState, client bufferops.Client, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "espx-ls"
	}
	if opts.Settings.ChannelCapacity <= 0 {
		opts.Settings.ChannelCapacity = bufferops.DefaultCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		state:    st,
		client:   client,
		consumer: bufferops.NewConsumer(client, st, opts.Logger),
		sessions: bufferops.NewSessionRegistry(),
		logger:   opts.Logger,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
	s := opts.Settings
	h.settings.Store(&s)
	return h
}

// Settings returns the tunables in effect.
func (h *Handler) Settings() Settings { return *h.settings.Load() }

// ApplyConfig installs reloadable settings from cfg: channel capacity,
// send timeout, insert_responses, custom scopes and the model provider.
// Scopes already registered are kept.
func (h *Handler) ApplyConfig(cfg config.Config) error {
	s := SettingsFrom(cfg)
	if s.ChannelCapacity <= 0 {
		s.ChannelCapacity = bufferops.DefaultCapacity
	}
	h.settings.Store(&s)

	var errs []error
	if err := RegisterScopes(h.state.Registry(), cfg.Commands.Scopes); err != nil {
		errs = append(errs, err)
	}

	if cfg.Model.Provider != "" {
		p, err := agent.NewProvider(agent.ProviderConfig{
			Provider: cfg.Model.Provider,
			APIKey:   cfg.Model.APIKey,
			Model:    cfg.Model.Model,
			BaseURL:  cfg.Model.BaseURL,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			h.installProvider(p, cfg.Model.MaxTokens)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) installProvider(p agent.Provider, maxTokens int) {
	a, release, err := h.state.Agent()
	if errors.Is(err, state.ErrNoAgent) {
		h.state.SetAgent(agent.New(p, agent.Options{MaxTokens: maxTokens}))
		return
	}
	if err != nil {
		return
	}
	defer release()
	a.SetProvider(p)
}

// RegisterScopes adds custom scopes to reg, skipping characters already
// bound to the same name.
func RegisterScopes(reg *interact.Registry, scopes []config.ScopeConfig) error {
	var errs []error
	for _, sc := range scopes {
		r := []rune(sc.Char)
		if len(r) != 1 {
			errs = append(errs, fmt.Errorf("%w: %q", interact.ErrInvalidChar, sc.Char))
			continue
		}
		if _, err := reg.RegisterScope(r[0], sc.Name); err != nil {
			if errors.Is(err, interact.ErrDuplicateChar) {
				continue
			}
			errs = append(errs, fmt.Errorf("scope %q: %w", sc.Char, err))
		}
	}
	return errors.Join(errs...)
}

// Root returns the workspace root path, or "" before initialize.
func (h *Handler) Root() string {
	h.rootMu.RLock()
	defer h.rootMu.RUnlock()
	return h.root
}

// Handle implements lsp.Handler.
func (h *Handler) Handle(ctx context.Context, msg *lsp.Message) (result any, err error) {
	ctx, span := lsp.StartSpan(ctx, msg.Method, documentURI(msg))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			panicsTotal.WithLabelValues(msg.Method).Inc()
			telemetry.LoggerWithTrace(ctx, h.logger).Error("panic in handler",
				slog.String("method", msg.Method),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])))
			result = nil
			err = lsp.NewError(lsp.CodeInternalError, "internal error in %s", msg.Method)
			h.showError(ctx, msg.Method, err)
		}
	}()

	result, err = h.route(ctx, msg)
	if err != nil && !errors.Is(err, lsp.ErrExit) && reportable(err) {
		h.showError(ctx, msg.Method, err)
	}
	return result, err
}

func (h *Handler) route(ctx context.Context, msg *lsp.Message) (any, error) {
	switch msg.Method {
	case "initialize":
		return h.initialize(ctx, msg)
	case "exit":
		return nil, lsp.ErrExit
	}

	if !h.initialized.Load() {
		if msg.IsRequest() {
			return nil, errNotInitialized()
		}
		return nil, nil
	}

	switch msg.Method {
	case "initialized":
		return nil, h.consumer.Apply(ctx, bufferops.ShowMessage{Type: lsp.MessageInfo, Message: StartupMessage})
	case "shutdown":
		return nil, h.shutdown(ctx)
	case "textDocument/didOpen":
		return nil, h.didOpen(ctx, msg)
	case "textDocument/didChange":
		return nil, h.didChange(ctx, msg)
	case "textDocument/didSave":
		return nil, h.didSave(ctx, msg)
	case "textDocument/didClose":
		return nil, h.didClose(ctx, msg)
	case "textDocument/hover":
		return h.hover(ctx, msg)
	case "textDocument/codeAction":
		return h.codeAction(ctx, msg)
	case "textDocument/definition":
		return h.definition(ctx, msg)
	case "workspace/executeCommand":
		return h.executeCommand(ctx, msg)
	case "$/cancelRequest":
		return nil, nil
	}

	if msg.IsRequest() {
		return nil, lsp.NewError(lsp.CodeMethodNotFound, "method not found: %s", msg.Method)
	}
	if !strings.HasPrefix(msg.Method, "$/") {
		h.logger.Debug("unhandled notification", slog.String("method", msg.Method))
	}
	return nil, nil
}

// reportable filters errors that are normal outcomes rather than failures
// worth a popup.
func reportable(err error) bool {
	var lerr *lsp.LSPError
	if errors.As(err, &lerr) {
		switch lerr.Code {
		case lsp.CodeRequestFailed, lsp.CodeServerNotInitialized, lsp.CodeMethodNotFound:
			return false
		}
	}
	return !errors.Is(err, burns.ErrNotPresent) && !errors.Is(err, state.ErrLockContention)
}

func (h *Handler) showError(ctx context.Context, method string, err error) {
	op := bufferops.ShowMessage{Type: lsp.MessageError, Message: fmt.Sprintf("espx-ls: %s: %v", method, err)}
	if aerr := h.consumer.Apply(ctx, op); aerr != nil {
		h.logger.Warn("show message failed", slog.String("error", aerr.Error()))
	}
}

// Wait blocks until every background task has returned.
func (h *Handler) Wait() error { return h.group.Wait() }

// Close cancels every session and waits for background tasks, up to ctx.
func (h *Handler) Close(ctx context.Context) error {
	h.sessions.CancelAll()
	h.cancel()

	done := make(chan error, 1)
	go func() { done <- h.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}

func decode[T any](msg *lsp.Message) (T, error) {
	var v T
	err := msg.DecodeParams(&v)
	return v, err
}

// documentURI extracts params.textDocument.uri for span attributes.
func documentURI(msg *lsp.Message) string {
	if len(msg.Params) == 0 {
		return ""
	}
	var p struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return ""
	}
	return p.TextDocument.URI
}
