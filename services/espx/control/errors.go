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

import "errors"

var (
	// ErrRateLimited indicates a message arrived faster than the limiter
	// allows. The connection stays open.
	ErrRateLimited = errors.New("control: rate limited")

	// ErrInvalidMessage indicates a line that is not a valid message.
	ErrInvalidMessage = errors.New("control: invalid message")

	// ErrUnknownMethod indicates a method the server does not handle.
	ErrUnknownMethod = errors.New("control: unknown method")

	// ErrServerStarted indicates Listen was called twice.
	ErrServerStarted = errors.New("control: server already started")
)
