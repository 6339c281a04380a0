// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package control

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Methods accepted on the socket.
const (
	MethodActivate = "activate"
	MethodCancel   = "cancel"
	MethodDiagnose = "diagnose"
	MethodPing     = "ping"
)

// MaxLineBytes bounds one message line.
const MaxLineBytes = 64 * 1024

// Message is one request line: {"method": "...", "params": {...}}.
type Message struct {
	Method string          `json:"method" validate:"required,oneof=activate cancel diagnose ping"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ActivateParams runs the burn at a position.
type ActivateParams struct {
	URI       string `json:"uri" validate:"required,max=4096"`
	Line      int    `json:"line" validate:"gte=0"`
	Character int    `json:"character" validate:"gte=0"`
}

// CancelParams cancels sessions of a document. A nil Line cancels every
// session of the document.
type CancelParams struct {
	URI  string `json:"uri" validate:"required,max=4096"`
	Line *int   `json:"line,omitempty" validate:"omitempty,gte=0"`
}

// DiagnoseParams republishes diagnostics for a document.
type DiagnoseParams struct {
	URI string `json:"uri" validate:"required,max=4096"`
}

// Response is written back as one line per request.
type Response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

var validate = validator.New()

// DecodeMessage parses and validates one line.
func DecodeMessage(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		if msg.Method != "" {
			return Message{}, fmt.Errorf("%w: %q", ErrUnknownMethod, msg.Method)
		}
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// DecodeParams unmarshals and validates msg.Params into v.
func DecodeParams(msg Message, v any) error {
	if len(msg.Params) == 0 {
		return fmt.Errorf("%w: %s: missing params", ErrInvalidMessage, msg.Method)
	}
	if err := json.Unmarshal(msg.Params, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, msg.Method, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, msg.Method, err)
	}
	return nil
}
