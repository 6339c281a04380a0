// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("espx.agent")
	meter  = otel.Meter("espx.agent")
)

var (
	completionTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		completionTotal, metricsErr = meter.Int64Counter(
			"espx_agent_completion_total",
			metric.WithDescription("Total number of streamed completions"),
		)
	})
	return metricsErr
}

func startSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.Stream",
		trace.WithAttributes(
			attribute.String("agent.provider", provider),
			attribute.String("agent.model", model),
		),
	)
}

func recordCompletion(ctx context.Context, provider string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	completionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}
