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
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// Client is the editor side of the connection.
//
// *lsp.Conn satisfies it.
type Client interface {
	Notify(method string, params any) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// BurnSink applies burn updates to server state. run identifies the
// session writing; implementations reject writes from a run that no longer
// owns the burn.
type BurnSink interface {
	// AppendResponse adds streamed text to a burn.
	AppendResponse(ctx context.Context, uri string, id, run uuid.UUID, text string) error

	// SetBurnStatus moves a burn to status. msg is the error text for
	// burns.StatusErrored.
	SetBurnStatus(ctx context.Context, uri string, id, run uuid.UUID, status burns.Status, msg string) error

	// ResponseEdit builds the edit inserting response below the burn at
	// its current position.
	ResponseEdit(ctx context.Context, uri string, id, run uuid.UUID, response string) (lsp.WorkspaceEdit, error)
}

// Summary describes one consumer run.
type Summary struct {
	// Applied counts operations applied.
	Applied int

	// Discarded counts operations dropped because the session was cancelled.
	Discarded int

	// Finished is true when Finished was received or the channel closed.
	Finished bool

	// Err is the last producer error received, if any.
	Err error
}

// Consumer applies received operations in order.
//
// Thread Safety: Run may be called from many goroutines, one per channel.
type Consumer struct {
	client Client
	sink   BurnSink
	logger *slog.Logger
}

// NewConsumer creates a consumer. sink may be nil when no operation
// touches burns.
func NewConsumer(client Client, sink BurnSink, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, sink: sink, logger: logger}
}

// Run drains rx until Finished, channel close or ctx is done.
//
// Description:
//
//	Each Working operation is applied through the Client or BurnSink.
//	Failures to apply are logged and do not stop the run. A producer error
//	is shown to the user and, when the session targets a burn, marks it
//	errored. On finish the targeted burn is marked done unless an error
//	was seen. Operations of a cancelled session are discarded and the
//	burn is left to the session that superseded it.
//
// Outputs:
//
//	Summary - Counts and the last producer error.
//	error - ctx.Err() when the run was interrupted.
func (c *Consumer) Run(ctx context.Context, rx *Receiver) (Summary, error) {
	defer rx.Close()

	var sum Summary
	session := rx.Session()

	for {
		select {
		case <-ctx.Done():
			return sum, ctx.Err()

		case res, ok := <-rx.C():
			if !ok {
				sum.Finished = true
				c.finish(ctx, session, &sum)
				return sum, nil
			}

			if session != nil && session.Cancelled() {
				sum.Discarded++
				discardedTotal.Inc()
				if _, done := res.Status.(Finished); done {
					sum.Finished = true
					return sum, nil
				}
				continue
			}

			if res.Err != nil {
				sum.Err = res.Err
				c.fail(ctx, session, res.Err)
				continue
			}

			switch st := res.Status.(type) {
			case Finished:
				sum.Finished = true
				c.finish(ctx, session, &sum)
				return sum, nil
			case Working:
				if err := c.Apply(ctx, st.Op); err != nil {
					appliedTotal.WithLabelValues(st.Op.Kind(), "error").Inc()
					c.logger.Warn("buffer operation failed",
						slog.String("kind", st.Op.Kind()),
						slog.String("error", err.Error()))
					continue
				}
				appliedTotal.WithLabelValues(st.Op.Kind(), "ok").Inc()
				sum.Applied++
			}
		}
	}
}

func (c *Consumer) finish(ctx context.Context, session *Session, sum *Summary) {
	if session == nil || session.Cancelled() || session.BurnID == uuid.Nil || c.sink == nil {
		return
	}
	if sum.Err != nil {
		return
	}
	if err := c.sink.SetBurnStatus(ctx, session.URI, session.BurnID, session.ID, burns.StatusDone, ""); err != nil {
		c.logger.Warn("marking burn done failed",
			slog.String("uri", session.URI),
			slog.String("error", err.Error()))
	}
}

func (c *Consumer) fail(ctx context.Context, session *Session, cause error) {
	c.logger.Error("background task failed", slog.String("error", cause.Error()))

	if err := c.Apply(ctx, ShowMessage{Type: lsp.MessageError, Message: cause.Error()}); err != nil {
		c.logger.Warn("show message failed", slog.String("error", err.Error()))
	}
	if session == nil || session.BurnID == uuid.Nil || c.sink == nil {
		return
	}
	if err := c.sink.SetBurnStatus(ctx, session.URI, session.BurnID, session.ID, burns.StatusErrored, cause.Error()); err != nil {
		c.logger.Warn("marking burn errored failed",
			slog.String("uri", session.URI),
			slog.String("error", err.Error()))
	}
}

// Apply performs one operation immediately. The request loop uses it for
// operations that need no channel.
func (c *Consumer) Apply(ctx context.Context, op Operation) error {
	switch o := op.(type) {
	case ShowMessage:
		return c.client.Notify("window/showMessage", lsp.ShowMessageParams{Type: o.Type, Message: o.Message})

	case LogMessage:
		return c.client.Notify("window/logMessage", lsp.LogMessageParams{Type: o.Type, Message: o.Message})

	case PublishDiagnostics:
		diags := o.Diagnostics
		if diags == nil {
			diags = []lsp.Diagnostic{}
		}
		return c.client.Notify("textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{URI: o.URI, Diagnostics: diags})

	case ClearDiagnostics:
		return c.client.Notify("textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{URI: o.URI, Diagnostics: []lsp.Diagnostic{}})

	case ApplyEdit:
		return c.applyEdit(ctx, o.Label, o.Edit)

	case InsertResponse:
		if c.sink == nil {
			return nil
		}
		edit, err := c.sink.ResponseEdit(ctx, o.URI, o.BurnID, o.Run, o.Response)
		if err != nil {
			return err
		}
		return c.applyEdit(ctx, o.Label, edit)

	case StreamChunk:
		if c.sink == nil {
			return nil
		}
		return c.sink.AppendResponse(ctx, o.URI, o.BurnID, o.Run, o.Text)

	case WorkDone:
		return c.progress(ctx, o)

	case BurnStatus:
		if c.sink == nil {
			return nil
		}
		return c.sink.SetBurnStatus(ctx, o.URI, o.BurnID, o.Run, o.Status, o.Err)

	default:
		return fmt.Errorf("unknown buffer operation %T", op)
	}
}

func (c *Consumer) applyEdit(ctx context.Context, label string, edit lsp.WorkspaceEdit) error {
	raw, err := c.client.Call(ctx, "workspace/applyEdit", lsp.ApplyWorkspaceEditParams{Label: label, Edit: edit})
	if err != nil {
		return fmt.Errorf("apply edit: %w", err)
	}
	var res lsp.ApplyWorkspaceEditResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Errorf("apply edit: decode result: %w", err)
		}
	}
	if !res.Applied {
		return fmt.Errorf("apply edit rejected: %s", res.FailureReason)
	}
	return nil
}

func (c *Consumer) progress(ctx context.Context, o WorkDone) error {
	var value any
	switch o.Phase {
	case WorkDoneBegin:
		if _, err := c.client.Call(ctx, "window/workDoneProgress/create", lsp.WorkDoneProgressCreateParams{Token: o.Token}); err != nil {
			return fmt.Errorf("create progress %s: %w", o.Token, err)
		}
		value = lsp.WorkDoneProgressBegin{Kind: "begin", Title: o.Title, Message: o.Message}
	case WorkDoneReport:
		value = lsp.WorkDoneProgressReport{Kind: "report", Message: o.Message}
	case WorkDoneEnd:
		value = lsp.WorkDoneProgressEnd{Kind: "end", Message: o.Message}
	default:
		return fmt.Errorf("unknown progress phase %d", o.Phase)
	}
	return c.client.Notify("$/progress", lsp.ProgressParams{Token: o.Token, Value: value})
}
