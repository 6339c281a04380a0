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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts control messages.
	// Labels: method, result (ok, error, invalid, rate_limited)
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "control",
		Name:      "requests_total",
		Help:      "Total control socket messages by method and result",
	}, []string{"method", "result"})

	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "espx",
		Subsystem: "control",
		Name:      "connections_active",
		Help:      "Open control socket connections",
	})
)
