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
	"errors"
	"fmt"
)

// Sentinel errors for LSP transport operations.
var (
	// ErrConnClosed indicates the connection was closed.
	ErrConnClosed = errors.New("lsp connection closed")

	// ErrRequestTimeout indicates a server-to-client request exceeded its context.
	ErrRequestTimeout = errors.New("lsp request timeout")

	// ErrClientGone indicates the client closed its end of the stream.
	ErrClientGone = errors.New("lsp client disconnected")

	// ErrInvalidMessage indicates a frame could not be parsed.
	ErrInvalidMessage = errors.New("invalid lsp message")
)

// JSON-RPC and LSP error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestFailed        = -32803
	CodeRequestCancelled     = -32800
)

// LSPError is a JSON-RPC error, either returned by a handler or received
// from the client.
type LSPError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message.
	Message string

	// Data contains optional additional data about the error.
	Data interface{}
}

// Error implements the error interface.
func (e *LSPError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("LSP error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d: %s", e.Code, e.Message)
}

// NewError creates an LSPError.
func NewError(code int, format string, args ...any) *LSPError {
	return &LSPError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsMethodNotFound returns true if the method is not supported.
func (e *LSPError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsRequestFailed returns true for a well-formed request that could not be served.
func (e *LSPError) IsRequestFailed() bool {
	return e.Code == CodeRequestFailed
}

// toResponseError converts any error into a wire error.
func toResponseError(err error) *ResponseError {
	var lspErr *LSPError
	if errors.As(err, &lspErr) {
		return &ResponseError{Code: lspErr.Code, Message: lspErr.Message, Data: lspErr.Data}
	}
	return &ResponseError{Code: CodeInternalError, Message: err.Error()}
}
