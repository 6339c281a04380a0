// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp implements the server side of the Language Server Protocol
// base layer for espx-ls.
//
// # Components
//
//   - Conn: Content-Length framed JSON-RPC 2.0 over a reader/writer pair
//     (stdio in production). Reads client requests and notifications,
//     writes replies, and issues server-to-client requests.
//   - Wire types: the subset of LSP structures used by the burn subsystem.
//   - LogExporter: forwards warning and error log entries to the editor as
//     window/logMessage notifications.
//
// # Architecture
//
//	 editor ──stdin──►  Conn.Serve ──► Handler.Handle (one goroutine)
//	 editor ◄─stdout──  Conn.write  ◄── Reply / Notify / Call (any goroutine)
//
// Handler.Handle runs on the read loop. It must not block on Call, because
// the response to Call arrives through that same loop.
//
// # Thread Safety
//
// Conn is safe for concurrent use.
package lsp
