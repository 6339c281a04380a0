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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sentTotal counts items enqueued.
	// Labels: kind (operation kind, "finished" or "error")
	sentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "bufferops",
		Name:      "sent_total",
		Help:      "Total items enqueued on buffer operation channels",
	}, []string{"kind"})

	// sendFailures counts sends that did not enqueue.
	// Labels: reason (receiver_closed, timeout, sender_closed, cancelled)
	sendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "bufferops",
		Name:      "send_failures_total",
		Help:      "Total sends rejected by buffer operation channels",
	}, []string{"reason"})

	// backpressureWaits counts sends that found the channel full.
	backpressureWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "bufferops",
		Name:      "backpressure_waits_total",
		Help:      "Total sends that waited for channel space",
	})

	// appliedTotal counts operations applied by consumers.
	// Labels: kind, status (ok, error)
	appliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "bufferops",
		Name:      "applied_total",
		Help:      "Total operations applied by consumers",
	}, []string{"kind", "status"})

	// discardedTotal counts operations dropped because their session was
	// cancelled.
	discardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "bufferops",
		Name:      "discarded_total",
		Help:      "Total operations discarded from cancelled sessions",
	})

	// sessionsActive tracks registered sessions.
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "espx",
		Subsystem: "bufferops",
		Name:      "sessions_active",
		Help:      "Sessions currently registered",
	})

	// sessionsCancelled counts cancelled sessions.
	// Labels: reason (superseded, explicit, document_closed, shutdown)
	sessionsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "bufferops",
		Name:      "sessions_cancelled_total",
		Help:      "Total sessions cancelled",
	}, []string{"reason"})
)
