// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bufferops carries editor-bound operations from background tasks
// to a single consumer over a bounded channel.
//
// A producer (for example a prompt completion) holds a Sender and emits
// Working operations followed by one Finished. The Consumer applies each
// operation to the editor through a Client and to server state through a
// BurnSink. Operations of one channel are applied in the order sent.
package bufferops

import (
	"github.com/google/uuid"

	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/lsp"
)

// Operation is a side effect to apply to the editor or to server state.
//
// The set is closed. Consumers switch exhaustively over: ShowMessage,
// LogMessage, PublishDiagnostics, ClearDiagnostics, ApplyEdit,
// InsertResponse, StreamChunk, WorkDone and BurnStatus.
type Operation interface {
	// Kind returns a short stable name used for metrics and logs.
	Kind() string

	isOperation()
}

// ShowMessage displays a message to the user.
type ShowMessage struct {
	Type    lsp.MessageType
	Message string
}

// LogMessage writes to the editor's log.
type LogMessage struct {
	Type    lsp.MessageType
	Message string
}

// PublishDiagnostics replaces the diagnostics of a document.
type PublishDiagnostics struct {
	URI         string
	Diagnostics []lsp.Diagnostic
}

// ClearDiagnostics removes all diagnostics of a document.
type ClearDiagnostics struct {
	URI string
}

// ApplyEdit asks the editor to apply a workspace edit.
type ApplyEdit struct {
	Label string
	Edit  lsp.WorkspaceEdit
}

// InsertResponse inserts a finished response below a burn. The position is
// resolved when the operation is applied, from the burn's current line in
// the current text; the edit is dropped if Run no longer owns the burn.
type InsertResponse struct {
	URI      string
	BurnID   uuid.UUID
	Run      uuid.UUID
	Label    string
	Response string
}

// StreamChunk appends streamed completion text to a burn's response. Run
// is the session producing it.
type StreamChunk struct {
	URI    string
	BurnID uuid.UUID
	Run    uuid.UUID
	Text   string
}

// WorkDonePhase is the stage of a progress report.
type WorkDonePhase int

const (
	// WorkDoneBegin creates the progress token and starts reporting.
	WorkDoneBegin WorkDonePhase = iota

	// WorkDoneReport updates a running progress.
	WorkDoneReport

	// WorkDoneEnd ends the progress.
	WorkDoneEnd
)

// WorkDone reports progress under Token.
type WorkDone struct {
	Token   string
	Phase   WorkDonePhase
	Title   string
	Message string
}

// BurnStatus moves a burn to a new status. Run is the session reporting
// it; uuid.Nil acts for any session.
type BurnStatus struct {
	URI    string
	BurnID uuid.UUID
	Run    uuid.UUID
	Status burns.Status
	Err    string
}

func (ShowMessage) Kind() string        { return "show_message" }
func (LogMessage) Kind() string         { return "log_message" }
func (PublishDiagnostics) Kind() string { return "publish_diagnostics" }
func (ClearDiagnostics) Kind() string   { return "clear_diagnostics" }
func (ApplyEdit) Kind() string          { return "apply_edit" }
func (InsertResponse) Kind() string     { return "insert_response" }
func (StreamChunk) Kind() string        { return "stream_chunk" }
func (WorkDone) Kind() string           { return "work_done" }
func (BurnStatus) Kind() string         { return "burn_status" }

func (ShowMessage) isOperation()        {}
func (LogMessage) isOperation()         {}
func (PublishDiagnostics) isOperation() {}
func (ClearDiagnostics) isOperation()   {}
func (ApplyEdit) isOperation()          {}
func (InsertResponse) isOperation()     {}
func (StreamChunk) isOperation()        {}
func (WorkDone) isOperation()           {}
func (BurnStatus) isOperation()         {}

// Status is the state of one channel item.
//
// The set is closed: Working carries an operation, Finished ends the
// session.
type Status interface {
	isStatus()
}

// Working carries one operation.
type Working struct {
	Op Operation
}

// Finished marks the end of a session.
type Finished struct{}

func (Working) isStatus()  {}
func (Finished) isStatus() {}

// Result is one channel item. A non-nil Err reports a producer failure;
// Status is nil in that case.
type Result struct {
	Status Status
	Err    error
}
