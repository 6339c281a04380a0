// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
	"github.com/voidKandy/espx-ls-sub001/services/espx/interact"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	s := NewStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func parsedRecords(t *testing.T, uri, text string) []burns.Record {
	t.Helper()
	var out []burns.Record
	for _, b := range burns.Parse(text, interact.NewRegistry(), nil) {
		out = append(out, b.Record(uri))
	}
	return out
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrStore)
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = time.Hour

	db, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, dir, db.Path())
	assert.False(t, db.InMemory())

	docs := NewCollection[DocumentRecord](db, CollectionDocuments)
	require.NoError(t, docs.Create(context.Background(), "file:///a", DocumentRecord{URI: "file:///a", Text: "x"}))
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	got, err := NewCollection[DocumentRecord](db2, CollectionDocuments).Get(context.Background(), "file:///a")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Text)
}

func TestCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	c := NewCollection[ChunkRecord](db, "test")
	for i, text := range []string{"a", "bb", "ccc"} {
		require.NoError(t, c.Create(ctx, chunkKey("u", i), ChunkRecord{URI: "u", Index: i, Text: text}))
	}
	require.NoError(t, c.Create(ctx, chunkKey("v", 0), ChunkRecord{URI: "v", Text: "other"}))

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := c.Select(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	long, err := c.Select(ctx, docPrefix("u"), func(r ChunkRecord) bool { return len(r.Text) > 1 })
	require.NoError(t, err)
	require.Len(t, long, 2)
	assert.Equal(t, "bb", long[0].Text)
	assert.Equal(t, "ccc", long[1].Text)

	n, err := c.DeleteWhere(ctx, docPrefix("u"), func(r ChunkRecord) bool { return r.Index == 0 })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.DeleteWhere(ctx, docPrefix("u"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rest, err := c.Select(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "other", rest[0].Text)
}

func TestCollection_CancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewCollection[ChunkRecord](db, "x").Create(ctx, "k", ChunkRecord{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_SaveDocumentReplacesBurns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const uri = "file:///a.go"

	first := parsedRecords(t, uri, "// @_ one\n// @_ two\n")
	require.NoError(t, s.SaveDocument(ctx, uri, "v1", first))

	got, err := s.LoadBurns(ctx, uri)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Payload)

	second := parsedRecords(t, uri, "code\n// +^ three\n")
	require.NoError(t, s.SaveDocument(ctx, uri, "v2", second))

	got, err = s.LoadBurns(ctx, uri)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "three", got[0].Payload)

	doc, err := s.Documents.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Text)
}

func TestStore_DocumentsDoNotShareBurns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveDocument(ctx, "file:///a", "", parsedRecords(t, "file:///a", "// @_ a\n")))
	require.NoError(t, s.SaveDocument(ctx, "file:///ab", "", parsedRecords(t, "file:///ab", "// @_ ab\n")))

	got, err := s.LoadBurns(ctx, "file:///a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Payload)
}

func TestStore_BurnsOnLines(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const uri = "file:///b.go"

	text := "// @_ zero\n\n// @^ {\nbody\n// @^ }\n// @_ five\n"
	require.NoError(t, s.SaveDocument(ctx, uri, text, parsedRecords(t, uri, text)))

	got, err := s.BurnsOnLines(ctx, uri, 3, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, burns.KindMulti, got[0].Kind)

	got, err = s.BurnsOnLines(ctx, uri, 5, 9)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "five", got[0].Payload)
}

func TestStore_Chunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const uri = "file:///c.md"

	recs, err := s.ReplaceChunks(ctx, uri, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Len(t, recs[0].Hash, 16)

	_, err = s.ReplaceChunks(ctx, uri, []string{"gamma"})
	require.NoError(t, err)

	got, err := s.ChunksFor(ctx, uri)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "gamma", got[0].Text)
}

func TestStore_RemoveDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	const uri = "file:///d.go"

	require.NoError(t, s.SaveDocument(ctx, uri, "x", parsedRecords(t, uri, "// @_ a\n")))
	_, err := s.ReplaceChunks(ctx, uri, []string{"x"})
	require.NoError(t, err)

	require.NoError(t, s.RemoveDocument(ctx, uri))

	_, err = s.Documents.Get(ctx, uri)
	assert.ErrorIs(t, err, ErrNotFound)
	b, err := s.LoadBurns(ctx, uri)
	require.NoError(t, err)
	assert.Empty(t, b)
	c, err := s.ChunksFor(ctx, uri)
	require.NoError(t, err)
	assert.Empty(t, c)
}

func TestOpen_ValueLogGC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCDiscardRatio = 1
	_, err := Open(cfg)
	assert.ErrorIs(t, err, ErrStore)

	cfg.GCDiscardRatio = 0.5
	cfg.GCInterval = time.Millisecond
	db, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, db.gcStop)

	docs := NewCollection[DocumentRecord](db, CollectionDocuments)
	require.NoError(t, docs.Create(context.Background(), "file:///gc", DocumentRecord{URI: "file:///gc", Text: "x"}))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, db.Close())
	select {
	case <-db.gcDone:
	default:
		t.Fatal("GC goroutine still running after Close")
	}

	mem, err := OpenInMemory()
	require.NoError(t, err)
	assert.Nil(t, mem.gcStop)
	require.NoError(t, mem.Close())
}
