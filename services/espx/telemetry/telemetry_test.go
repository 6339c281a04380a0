// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "stdout")

	cfg := DefaultConfig()
	assert.Equal(t, "espx-ls", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterStdout, cfg.MetricExporter)
}

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: ExporterNone, MetricExporter: ExporterNone})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "jaeger-thrift"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "espx-ls-test",
		TraceExporter:  ExporterStdout,
		MetricExporter: ExporterNone,
		Writer:         &buf,
	})
	require.NoError(t, err)

	ctx, span := otel.Tracer("espx.test").Start(context.Background(), "unit")

	var logs bytes.Buffer
	logger := LoggerWithTrace(ctx, slog.New(slog.NewTextHandler(&logs, nil)))
	logger.Info("hello")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "unit")
	assert.Contains(t, logs.String(), "trace_id=")
}

func TestInit_OTLPConnectsLazily(t *testing.T) {
	cfg := Config{
		ServiceName:   "espx-test",
		TraceExporter: ExporterOTLP,
		OTLPEndpoint:  "127.0.0.1:1",
		OTLPInsecure:  true,
	}
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestInit_PrometheusHandler(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "espx-ls-test", MetricExporter: ExporterPrometheus})
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := otel.Meter("espx.test").Int64Counter("espx_test_events_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	h := MetricsHandler()
	require.NotNil(t, h)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "espx_test_events_total")
}

func TestLoggerWithTrace_NoSpan(t *testing.T) {
	logger := slog.Default()
	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))
}

func TestServeMetrics_NoHandler(t *testing.T) {
	prometheusHandlerMu.Lock()
	saved := prometheusHandler
	prometheusHandler = nil
	prometheusHandlerMu.Unlock()
	t.Cleanup(func() {
		prometheusHandlerMu.Lock()
		prometheusHandler = saved
		prometheusHandlerMu.Unlock()
	})

	assert.NoError(t, ServeMetrics(context.Background(), "127.0.0.1:0", nil))
}
