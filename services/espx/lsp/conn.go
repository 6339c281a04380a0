// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// ErrExit is returned by a Handler to stop Serve cleanly after "exit".
var ErrExit = errors.New("lsp exit requested")

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Message is any inbound JSON-RPC message.
//
// Requests carry ID and Method, notifications carry only Method, and
// responses carry ID with Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

// IsRequest reports whether the message expects a reply.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.HasID()
}

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.HasID()
}

// IsResponse reports whether the message answers a server request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.HasID()
}

// DecodeParams unmarshals the message params into v.
func (m *Message) DecodeParams(v any) error {
	if len(m.Params) == 0 {
		return NewError(CodeInvalidParams, "%s: missing params", m.Method)
	}
	if err := json.Unmarshal(m.Params, v); err != nil {
		return NewError(CodeInvalidParams, "%s: %v", m.Method, err)
	}
	return nil
}

// Request is an outbound server-to-client request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an outbound reply to a client request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError represents a JSON-RPC error.
type ResponseError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Notification is an outbound notification.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// =============================================================================
// HANDLER
// =============================================================================

// Handler serves inbound requests and notifications.
//
// For requests the returned result (or error) is sent as the reply. For
// notifications the result is discarded and a non-nil error is only logged.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (any, error) {
	return f(ctx, msg)
}

// =============================================================================
// CONNECTION
// =============================================================================

// Conn handles JSON-RPC communication with the editor.
//
// Description:
//
//	Implements the LSP base protocol using Content-Length headers in both
//	directions. Inbound requests are dispatched to a Handler on the read
//	loop; outbound requests are correlated with their responses by id.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple goroutines can send requests,
//	notifications and replies simultaneously.
type Conn struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan *Message
	pendingMu sync.Mutex
	closed    atomic.Bool
	logger    *slog.Logger
}

// NewConn creates a connection reading from r and writing to w.
//
// Inputs:
//
//	r - Reader for client messages (stdin)
//	w - Writer for server messages (stdout)
//	logger - Logger for transport events. Nil uses slog.Default().
//
// Outputs:
//
//	*Conn - The connection
func NewConn(r io.Reader, w io.Writer, logger *slog.Logger) *Conn {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan *Message),
		logger:  logger,
	}
}

// Call sends a request to the editor and waits for its response.
//
// Description:
//
//	Must not be called from Handler.Handle: the response is delivered by
//	the read loop, which is blocked while Handle runs.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	method - The method to invoke (e.g., "workspace/applyEdit")
//	params - Method parameters (will be JSON-marshaled)
//
// Outputs:
//
//	json.RawMessage - The result
//	error - Non-nil if sending failed, timed out, or the client returned an error
//
// Thread Safety:
//
//	Safe for concurrent use.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	id := atomic.AddInt64(&c.nextID, 1)
	respCh := make(chan *Message, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
	if err := c.write(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp, ok := <-respCh:
		if !ok || resp == nil {
			return nil, ErrConnClosed
		}
		if resp.Error != nil {
			return nil, &LSPError{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		return resp.Result, nil
	}
}

// Notify sends a notification to the editor.
//
// Thread Safety: Safe for concurrent use.
func (c *Conn) Notify(method string, params any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.write(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params})
}

// Reply answers the request with the given id.
//
// A nil result is sent as JSON null. A non-nil err is converted into a
// JSON-RPC error, keeping the code of an *LSPError.
//
// Thread Safety: Safe for concurrent use.
func (c *Conn) Reply(id json.RawMessage, result any, err error) error {
	resp := Response{JSONRPC: JSONRPCVersion, ID: id}
	if err != nil {
		resp.Error = toResponseError(err)
	} else {
		data, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = &ResponseError{Code: CodeInternalError, Message: merr.Error()}
		} else {
			resp.Result = data
		}
	}
	return c.write(resp)
}

// write marshals and writes a message with Content-Length header.
func (c *Conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(c.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// Serve reads messages until the stream ends, ctx is done or the handler
// returns ErrExit.
//
// Description:
//
//	Responses are matched to pending Calls. Requests and notifications are
//	passed to h one at a time, in arrival order. Request replies are sent
//	from the read loop after h returns. Malformed frames are answered with
//	a parse error when an id can be recovered and otherwise skipped.
//
// Inputs:
//
//	ctx - Context for cancellation, passed to every Handle call
//	h - The message handler
//
// Outputs:
//
//	error - nil on ErrExit, ErrClientGone on EOF, or the read failure
//
// Thread Safety:
//
//	Must be called from a single goroutine.
func (c *Conn) Serve(ctx context.Context, h Handler) error {
	if c.reader == nil {
		return fmt.Errorf("no reader configured")
	}
	if err := initMetrics(); err != nil {
		c.logger.Warn("lsp metrics unavailable", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		body, err := c.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrClientGone
			}
			if c.closed.Load() {
				return nil
			}
			if errors.Is(err, ErrInvalidMessage) {
				c.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
				continue
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			c.logger.Warn("unparseable message", slog.String("error", err.Error()))
			_ = c.Reply(json.RawMessage("null"), nil, NewError(CodeParseError, "%v", err))
			continue
		}

		if msg.IsResponse() {
			c.deliver(&msg)
			continue
		}

		if err := c.dispatch(ctx, h, &msg); err != nil {
			if errors.Is(err, errExitServe) {
				return nil
			}
			return err
		}
	}
}

// dispatch runs the handler for one inbound message. It returns a non-nil
// error only to stop Serve.
func (c *Conn) dispatch(ctx context.Context, h Handler, msg *Message) (stop error) {
	start := time.Now()
	result, err := h.Handle(ctx, msg)
	exit := errors.Is(err, ErrExit)
	if exit {
		err = nil
	}
	recordMessageMetrics(ctx, msg.Method, time.Since(start), err == nil)

	if msg.IsRequest() {
		if rerr := c.Reply(msg.ID, result, err); rerr != nil {
			return fmt.Errorf("reply %s: %w", msg.Method, rerr)
		}
	} else if err != nil {
		c.logger.Warn("notification failed",
			slog.String("method", msg.Method),
			slog.String("error", err.Error()))
	}

	if exit {
		return errExitServe
	}
	return nil
}

// errExitServe unwinds Serve after ErrExit; Serve translates it to nil.
var errExitServe = errors.New("serve exit")

// deliver routes a response to the pending Call with its id.
func (c *Conn) deliver(msg *Message) {
	id, err := strconv.ParseInt(strings.TrimSpace(string(msg.ID)), 10, 64)
	if err != nil {
		c.logger.Debug("response with non-numeric id", slog.String("id", string(msg.ID)))
		return
	}

	// Send under the lock so Close cannot close ch concurrently.
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if ch, ok := c.pending[id]; ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// maxContentLength bounds one frame body.
const maxContentLength = 64 << 20

// readMessage reads a single framed message body. An oversized body is
// skipped so the next frame stays aligned.
func (c *Conn) readMessage() ([]byte, error) {
	contentLength := -1

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)

		if line == "" {
			if contentLength < 0 {
				// Stray blank line between frames.
				continue
			}
			break
		}

		if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(name, "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: Content-Length %q", ErrInvalidMessage, value)
			}
			contentLength = n
		}
		// Other headers (Content-Type) are ignored.
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("%w: zero Content-Length", ErrInvalidMessage)
	}
	if contentLength > maxContentLength {
		err := fmt.Errorf("%w: Content-Length %d exceeds %d", ErrInvalidMessage, contentLength, maxContentLength)
		if _, derr := io.CopyN(io.Discard, c.reader, int64(contentLength)); derr != nil {
			return nil, fmt.Errorf("%w: skip body: %w", err, derr)
		}
		return nil, err
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Close marks the connection closed and fails pending Calls.
//
// Does not close the underlying reader or writer.
//
// Thread Safety: Safe for concurrent use.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}
