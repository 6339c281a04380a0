// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lockContention counts failed non-blocking acquisitions.
	// Labels: mode (read, write)
	lockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espx",
		Subsystem: "state",
		Name:      "lock_contention_total",
		Help:      "Total non-blocking lock acquisitions that found the lock held",
	}, []string{"mode"})
)
