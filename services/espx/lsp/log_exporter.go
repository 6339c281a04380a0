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
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/voidKandy/espx-ls-sub001/pkg/logging"
)

// Notifier sends notifications to the editor. *Conn implements it.
type Notifier interface {
	Notify(method string, params any) error
}

// LogExporter forwards log entries at or above a minimum level to the
// editor as window/logMessage notifications.
//
// Entries are dropped until Attach is called, so the exporter can be
// created before the connection exists.
type LogExporter struct {
	min    logging.Level
	target atomic.Pointer[notifierBox]
}

type notifierBox struct{ n Notifier }

// NewLogExporter creates an exporter for entries at or above min.
func NewLogExporter(min logging.Level) *LogExporter {
	return &LogExporter{min: min}
}

// Attach sets the destination connection.
func (e *LogExporter) Attach(n Notifier) {
	e.target.Store(&notifierBox{n: n})
}

// Export implements logging.LogExporter.
func (e *LogExporter) Export(_ context.Context, entry logging.LogEntry) error {
	if entry.Level < e.min {
		return nil
	}
	box := e.target.Load()
	if box == nil {
		return nil
	}
	return box.n.Notify("window/logMessage", LogMessageParams{
		Type:    messageTypeFor(entry.Level),
		Message: formatEntry(entry),
	})
}

// Flush implements logging.LogExporter.
func (e *LogExporter) Flush(context.Context) error { return nil }

// Close implements logging.LogExporter.
func (e *LogExporter) Close() error {
	e.target.Store(nil)
	return nil
}

var _ logging.LogExporter = (*LogExporter)(nil)

func messageTypeFor(l logging.Level) MessageType {
	switch l {
	case logging.LevelError:
		return MessageError
	case logging.LevelWarn:
		return MessageWarning
	case logging.LevelInfo:
		return MessageInfo
	default:
		return MessageLog
	}
}

// formatEntry renders "message key=value ..." with keys sorted.
func formatEntry(entry logging.LogEntry) string {
	if len(entry.Attrs) == 0 {
		return entry.Message
	}
	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		if k == "service" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(entry.Message)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Attrs[k])
	}
	return b.String()
}
