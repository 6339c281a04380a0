// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "espx-ls.toml", "[commands]\nchannel_capacity = 5\n")
	initial, err := LoadFile(path)
	require.NoError(t, err)

	reloaded := make(chan Config, 4)
	w, err := NewWatcher(path, initial, 20*time.Millisecond, func(c Config) { reloaded <- c }, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// allow the directory watch to register
	time.Sleep(50 * time.Millisecond)

	writeFile(t, dir, "other.txt", "ignored")
	require.NoError(t, os.WriteFile(path, []byte("[commands]\nchannel_capacity = 9\n"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, 9, c.Commands.ChannelCapacity)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload")
	}
	assert.Equal(t, 9, w.Current().Commands.ChannelCapacity)

	// an invalid edit keeps the previous config
	require.NoError(t, os.WriteFile(path, []byte("[commands]\nchannel_capacity = -1\n"), 0o644))
	select {
	case <-reloaded:
		t.Fatal("invalid config was applied")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 9, w.Current().Commands.ChannelCapacity)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "gone", "espx-ls.toml"), Default(), 0, nil, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.Start(context.Background()))
	assert.NoError(t, w.Close())
}
