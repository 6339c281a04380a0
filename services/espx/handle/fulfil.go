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
	"runtime"
	"strings"

	"github.com/voidKandy/espx-ls-sub001/services/espx/agent"
	"github.com/voidKandy/espx-ls-sub001/services/espx/bufferops"
	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
	"github.com/voidKandy/espx-ls-sub001/services/espx/state"
)

// cancelledMessage marks burns stopped by an explicit cancel.
const cancelledMessage = "cancelled"

// job is one burn fulfilment. Everything in it is a snapshot taken under
// the read lock, so the producer never touches shared state directly.
type job struct {
	uri     string
	burn    *burns.Burn
	name    string
	text    string
	key     string
	session *bufferops.Session
	tx      *bufferops.Sender
}

// conversationKey selects the agent conversation for a burn scope.
func conversationKey(scope interact.Scope, uri string) string {
	if scope == interact.Global {
		return agent.GlobalKey
	}
	return uri
}

// commandLabel names a command for metrics.
func commandLabel(c interact.Command) string {
	switch c {
	case interact.Prompt:
		return "PROMPT"
	case interact.Push:
		return "PUSH"
	case interact.RagPush:
		return "RAG_PUSH"
	default:
		return "UNKNOWN"
	}
}

// Activate starts the burn at the given position in the background.
//
// Description:
//
//	Snapshots the burn under a non-blocking read lock, begins a session
//	keyed by scope, document and burn ID (superseding any previous run of the
//	same burn) and starts a producer and a consumer connected by a bounded
//	channel. Activate returns once both are started.
//
// Inputs:
//
//	ctx - Request context. The background work uses the handler context.
//	uri - Document URI.
//	line, character - Position inside the burn marker.
//
// Outputs:
//
//	error - ErrNoBurn, the busy error under lock contention, or
//	        state.ErrShutdown.
func (h *Handler) Activate(_ context.Context, uri string, line, character int) error {
	if h.shuttingDown.Load() {
		return state.ErrShutdown
	}

	v, release, err := h.tryRead("activate")
	if err != nil {
		return err
	}
	b, err := v.GetByPosition(uri, lsp.Position{Line: line, Character: character})
	if err != nil {
		release()
		return fmt.Errorf("%w: %s:%d:%d: %w", ErrNoBurn, uri, line, character, err)
	}
	j := &job{
		uri:  uri,
		burn: b.Clone(),
		name: v.Registry().HumanReadable(b.Interact),
	}
	j.text, _ = v.Text(uri)

	// Begin under the read lock so an edit removing the burn sees the
	// session and cancels it.
	scope := j.burn.Interact.Scope()
	j.key = conversationKey(scope, uri)
	j.session = h.sessions.Begin(h.ctx, bufferops.SessionKey(scope, uri, j.burn.ID), uri, j.burn.ID)
	release()

	settings := h.Settings()
	tx, rx := bufferops.NewChannel(settings.ChannelCapacity,
		bufferops.WithSession(j.session),
		bufferops.WithSendTimeout(settings.SendTimeout))
	j.tx = tx

	h.logger.Debug("activating burn",
		slog.String("uri", uri),
		slog.String("burn", j.name),
		slog.String("session", j.session.ID.String()))

	h.group.Go(func() error {
		h.produce(j, settings)
		return nil
	})
	h.group.Go(func() error {
		if _, err := h.consumer.Run(h.ctx, rx); err != nil {
			h.logger.Debug("consumer stopped", slog.String("uri", uri), slog.String("error", err.Error()))
		}
		h.publishLater(h.ctx, uri)
		return nil
	})
	return nil
}

// produce runs the command of j and reports the outcome on its channel.
func (h *Handler) produce(j *job, settings Settings) {
	ctx := j.session.Context()
	command := j.burn.Interact.Command()
	defer h.sessions.End(j.session)
	defer j.tx.Close()

	var err error
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			panicsTotal.WithLabelValues("produce").Inc()
			h.logger.Error("panic in producer",
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])))
			err = fmt.Errorf("internal error running %s", j.name)
			_ = j.tx.SendError(ctx, err)
			commandsTotal.WithLabelValues(commandLabel(command), "error").Inc()
		}
	}()

	err = j.tx.SendOperation(ctx, bufferops.BurnStatus{URI: j.uri, BurnID: j.burn.ID, Run: j.session.ID, Status: burns.StatusStreaming})
	if err == nil {
		switch command {
		case interact.Prompt:
			err = h.runPrompt(ctx, j, settings)
		case interact.Push:
			err = h.runPush(ctx, j)
		case interact.RagPush:
			err = h.runRagPush(ctx, j)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownCommand, j.name)
		}
	}

	result := "ok"
	switch {
	case err == nil:
		if ferr := j.tx.SendFinish(ctx); ferr != nil {
			h.logger.Debug("finish not delivered", slog.String("error", ferr.Error()))
		}
	case j.session.Cancelled() || errors.Is(err, bufferops.ErrSessionCancelled) || errors.Is(err, context.Canceled):
		result = "cancelled"
	default:
		result = "error"
		if serr := j.tx.SendError(ctx, fmt.Errorf("%s: %w", j.name, err)); serr != nil {
			h.logger.Warn("error not delivered",
				slog.String("burn", j.name),
				slog.String("error", err.Error()))
		}
	}
	commandsTotal.WithLabelValues(commandLabel(command), result).Inc()
}

// runPrompt streams a completion for the burn payload.
func (h *Handler) runPrompt(ctx context.Context, j *job, settings Settings) error {
	a, release, err := h.state.Agent()
	if errors.Is(err, state.ErrNoAgent) {
		return ErrNoProvider
	}
	if err != nil {
		return err
	}
	req, err := a.Prepare(j.key, j.burn.Payload, promptContext(j.burn.Prefix))
	provider := a.Provider()
	release()
	if err != nil {
		return err
	}
	if provider == nil {
		return ErrNoProvider
	}

	token := "espx-" + j.session.ID.String()
	if err := j.tx.SendOperation(ctx, bufferops.WorkDone{
		Token:   token,
		Phase:   bufferops.WorkDoneBegin,
		Title:   j.name,
		Message: firstLine(j.burn.Payload),
	}); err != nil {
		return err
	}

	received := 0
	response, err := provider.Stream(ctx, req, func(text string) error {
		if err := j.tx.SendOperation(ctx, bufferops.StreamChunk{URI: j.uri, BurnID: j.burn.ID, Run: j.session.ID, Text: text}); err != nil {
			return err
		}
		received += len(text)
		return j.tx.SendOperation(ctx, bufferops.WorkDone{
			Token:   token,
			Phase:   bufferops.WorkDoneReport,
			Message: fmt.Sprintf("%d bytes", received),
		})
	})
	if err != nil {
		if !j.session.Cancelled() {
			_ = j.tx.SendOperation(ctx, bufferops.WorkDone{Token: token, Phase: bufferops.WorkDoneEnd, Message: "failed"})
		}
		return err
	}

	if a, release, err := h.state.Agent(); err == nil {
		a.Record(j.key, response)
		werr := a.WriteConversation(h.conversationPath(j.uri))
		release()
		if werr != nil {
			h.logger.Warn("writing conversation failed", slog.String("error", werr.Error()))
		}
	}

	if !settings.InsertResponses || strings.TrimSpace(response) == "" {
		return j.tx.SendOperation(ctx, bufferops.WorkDone{Token: token, Phase: bufferops.WorkDoneEnd, Message: "done"})
	}

	// Done and the progress end go before the edit: the edit's didChange may
	// re-scan the burn's line and cancel this session.
	if err := j.tx.SendOperation(ctx, bufferops.BurnStatus{URI: j.uri, BurnID: j.burn.ID, Run: j.session.ID, Status: burns.StatusDone}); err != nil {
		return err
	}
	if err := j.tx.SendOperation(ctx, bufferops.WorkDone{Token: token, Phase: bufferops.WorkDoneEnd, Message: "done"}); err != nil {
		return err
	}
	return j.tx.SendOperation(ctx, bufferops.InsertResponse{
		URI:      j.uri,
		BurnID:   j.burn.ID,
		Run:      j.session.ID,
		Label:    "espx: " + j.name,
		Response: response,
	})
}

// runPush adds the payload, or the document for document-scoped burns, to
// the conversation.
func (h *Handler) runPush(ctx context.Context, j *job) error {
	label, content := j.name, j.burn.Payload
	if j.burn.Interact.Scope() == interact.Document {
		label, content = j.uri, j.text
	}
	if strings.TrimSpace(content) == "" {
		return agent.ErrEmptyPrompt
	}

	a, release, err := h.state.Agent()
	if err != nil {
		return err
	}
	a.Push(j.key, label, content)
	release()

	return j.tx.SendOperation(ctx, bufferops.ShowMessage{
		Type:    lsp.MessageInfo,
		Message: fmt.Sprintf("Pushed %s to the %s conversation", label, j.key),
	})
}

// runRagPush splits the document, stores the chunks when a database is
// configured and pushes them to the conversation.
func (h *Handler) runRagPush(ctx context.Context, j *job) error {
	chunks, err := splitterFor(j.uri).SplitText(j.text)
	if err != nil {
		return fmt.Errorf("split %s: %w", j.uri, err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("split %s: document is empty", j.uri)
	}

	if store := h.state.Store(); store != nil {
		if _, err := store.ReplaceChunks(ctx, j.uri, chunks); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
	} else {
		h.logger.Debug("no database, chunks kept in context only", slog.String("uri", j.uri))
	}

	a, release, err := h.state.Agent()
	if err != nil {
		return err
	}
	for i, c := range chunks {
		a.Push(j.key, fmt.Sprintf("%s [%d/%d]", j.uri, i+1, len(chunks)), c)
	}
	release()

	return j.tx.SendOperation(ctx, bufferops.ShowMessage{
		Type:    lsp.MessageInfo,
		Message: fmt.Sprintf("Pushed %d chunks of %s", len(chunks), j.uri),
	})
}

// Cancel stops running burns of uri on line, or of the whole document when
// line is negative, and marks them errored.
//
// Outputs:
//
//	int - Number of sessions cancelled.
//	error - The busy error under lock contention.
func (h *Handler) Cancel(_ context.Context, uri string, line int) (int, error) {
	v, release, err := h.tryRead("cancel")
	if err != nil {
		return 0, err
	}
	all, _ := v.AllOnDocument(uri)
	var keys []string
	for _, b := range all {
		if line < 0 || b.StartLine() == line {
			keys = append(keys, bufferops.SessionKey(b.Interact.Scope(), uri, b.ID))
		}
	}
	release()

	var stopped []*bufferops.Session
	for _, key := range keys {
		if s, ok := h.sessions.Cancel(key); ok {
			stopped = append(stopped, s)
		}
	}
	n := len(stopped)
	if line < 0 {
		n += h.sessions.CancelDocument(uri)
	}
	if len(stopped) == 0 {
		return n, nil
	}

	h.group.Go(func() error {
		for _, s := range stopped {
			err := h.state.SetBurnStatus(h.ctx, uri, s.BurnID, s.ID, burns.StatusErrored, cancelledMessage)
			if err != nil && !errors.Is(err, burns.ErrNotPresent) && !errors.Is(err, burns.ErrStaleRun) {
				h.logger.Warn("marking burn cancelled failed", slog.String("uri", uri), slog.String("error", err.Error()))
			}
		}
		h.publishLater(h.ctx, uri)
		return nil
	})
	return n, nil
}

// promptContext is the code before a burn's marker without the trailing
// comment leader.
func promptContext(prefix string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/#-;*% \t")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
