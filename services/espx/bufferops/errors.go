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

import "errors"

var (
	// ErrReceiverClosed indicates the consumer stopped receiving.
	ErrReceiverClosed = errors.New("buffer operation receiver closed")

	// ErrBackpressureTimeout indicates the channel stayed full until the
	// send deadline.
	ErrBackpressureTimeout = errors.New("buffer operation channel full")

	// ErrSenderClosed indicates a send after Close or SendFinish.
	ErrSenderClosed = errors.New("buffer operation sender closed")

	// ErrSessionCancelled indicates the session was cancelled or superseded.
	ErrSessionCancelled = errors.New("buffer operation session cancelled")
)
