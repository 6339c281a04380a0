// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelDebug, ParseLevel(" TRACE "))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestLevel_SlogRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		assert.Equal(t, l, fromSlogLevel(l.toSlogLevel()))
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatText, Stderr: &buf, Service: "espx-ls"})
	defer logger.Close()

	logger.Info("document opened", "uri", "file:///a.go")

	out := buf.String()
	assert.Contains(t, out, "document opened")
	assert.Contains(t, out, "uri=file:///a.go")
	assert.Contains(t, out, "service=espx-ls")
}

func TestNew_AutoFormatIsJSONForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Stderr: &buf})
	defer logger.Close()

	logger.Warn("busy", "attempt", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "busy", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.EqualValues(t, 2, rec["attempt"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Format: FormatText, Stderr: &buf})
	defer logger.Close()

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestLogger_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Stderr: &buf})
	defer logger.Close()

	logger.Error("should not appear")
	assert.Empty(t, buf.String())
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatText, Stderr: &buf})
	defer logger.Close()

	child := logger.With("session", "abc")
	child.Info("streaming")

	assert.Contains(t, buf.String(), "session=abc")
}

func TestLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{LogDir: dir, Service: "espx-test", Quiet: true, Stderr: &buf})

	logger.Info("to file", "k", "v")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "espx-test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestLogger_FileOutput_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(file, "sub"), Format: FormatText, Stderr: &buf})
	defer logger.Close()

	assert.Contains(t, buf.String(), "logging: create")
	logger.Info("still works")
	assert.Contains(t, buf.String(), "still works")
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestLogger_Exporter(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Quiet: true, Service: "svc", Exporter: exp})
	defer logger.Close()

	logger.With("uri", "file:///x").Warn("lock contention", "mode", "write")
	logger.Debug("filtered")

	require.Eventually(t, func() bool { return len(exp.Entries()) == 1 }, time.Second, 5*time.Millisecond)

	entry := exp.Entries()[0]
	assert.Equal(t, LevelWarn, entry.Level)
	assert.Equal(t, "lock contention", entry.Message)
	assert.Equal(t, "svc", entry.Service)
	assert.Equal(t, "write", entry.Attrs["mode"])
	assert.Equal(t, "file:///x", entry.Attrs["uri"])
}

func TestLogger_ExporterThroughSlog(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exp})
	defer logger.Close()

	logger.Slog().Error("from slog", slog.String("error", "boom"))

	require.Eventually(t, func() bool { return len(exp.Entries()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "boom", exp.Entries()[0].Attrs["error"])
}

type failingExporter struct {
	NopExporter
}

func (e *failingExporter) Flush(ctx context.Context) error { return errors.New("flush failed") }

func TestLogger_Close_ExporterError(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: &failingExporter{}})
	err := logger.Close()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "flush failed"))
}

func TestBufferedExporter_EntriesReturnsCopy(t *testing.T) {
	exp := NewBufferedExporter()
	require.NoError(t, exp.Export(context.Background(), LogEntry{Message: "a"}))

	entries := exp.Entries()
	entries[0].Message = "changed"
	assert.Equal(t, "a", exp.Entries()[0].Message)
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var buf safeBuffer
	logger := New(Config{Format: FormatText, Stderr: &buf})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info("concurrent", "i", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "concurrent"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".espx"), expandPath("~/.espx"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "rel/path", expandPath("rel/path"))
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
