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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// commandsTotal counts burn fulfilments.
	// Labels: command (PROMPT, PUSH, RAG_PUSH), result (ok, error, cancelled)
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "handle",
		Name:      "commands_total",
		Help:      "Total burn fulfilments by command and result",
	}, []string{"command", "result"})

	// panicsTotal counts handler panics recovered by the dispatcher.
	panicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "handle",
		Name:      "panics_total",
		Help:      "Total recovered handler panics by method",
	}, []string{"method"})

	// busyTotal counts requests answered busy.
	busyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "handle",
		Name:      "busy_total",
		Help:      "Total requests answered busy because of lock contention",
	}, []string{"method"})
)
