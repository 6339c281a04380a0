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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/voidKandy/espx-ls-sub001/services/espx/burns"
)

// Collection names.
const (
	CollectionDocuments = "documents"
	CollectionBurns     = "burns"
	CollectionChunks    = "chunks"
)

// DocumentRecord is a saved document.
type DocumentRecord struct {
	URI       string    `json:"uri"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChunkRecord is one RAG chunk of a document.
type ChunkRecord struct {
	URI   string `json:"uri"`
	Index int    `json:"index"`
	Text  string `json:"text"`
	Hash  string `json:"hash"`
}

// Store groups the collections the server uses.
//
// Keys: documents by URI; burns by "URI|start-end|id" so every burn of a
// document shares the "URI|" prefix; chunks by "URI|index".
type Store struct {
	db        *DB
	Documents *Collection[DocumentRecord]
	Burns     *Collection[burns.Record]
	Chunks    *Collection[ChunkRecord]
}

// NewStore creates the collections on db.
func NewStore(db *DB) *Store {
	return &Store{
		db:        db,
		Documents: NewCollection[DocumentRecord](db, CollectionDocuments),
		Burns:     NewCollection[burns.Record](db, CollectionBurns),
		Chunks:    NewCollection[ChunkRecord](db, CollectionChunks),
	}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func docPrefix(uri string) string { return uri + "|" }

func burnKey(r burns.Record) string {
	start, end := r.Lines()
	return fmt.Sprintf("%s%08d-%08d|%s", docPrefix(r.URI), start, end, r.ID)
}

func chunkKey(uri string, i int) string {
	return fmt.Sprintf("%s%06d", docPrefix(uri), i)
}

// SaveDocument stores text and replaces every burn saved for uri, in one
// transaction.
func (s *Store) SaveDocument(ctx context.Context, uri, text string, records []burns.Record) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		doc := DocumentRecord{URI: uri, Text: text, UpdatedAt: time.Now().UTC()}
		if err := s.Documents.put(txn, uri, doc); err != nil {
			return err
		}
		if _, err := s.Burns.deleteWhere(txn, docPrefix(uri), nil); err != nil {
			return err
		}
		for _, r := range records {
			r.URI = uri
			if err := s.Burns.put(txn, burnKey(r), r); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadBurns returns the burns saved for uri ordered by line.
func (s *Store) LoadBurns(ctx context.Context, uri string) ([]burns.Record, error) {
	return s.Burns.Select(ctx, docPrefix(uri), nil)
}

// BurnsOnLines returns the saved burns for uri whose line span intersects
// [start, end].
func (s *Store) BurnsOnLines(ctx context.Context, uri string, start, end int) ([]burns.Record, error) {
	return s.Burns.Select(ctx, docPrefix(uri), func(r burns.Record) bool {
		rs, re := r.Lines()
		return rs <= end && start <= re
	})
}

// RemoveDocument deletes the document, its burns and its chunks.
func (s *Store) RemoveDocument(ctx context.Context, uri string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(s.Documents.key(uri)); err != nil {
			return fmt.Errorf("%w: delete document %s: %v", ErrStore, uri, err)
		}
		if _, err := s.Burns.deleteWhere(txn, docPrefix(uri), nil); err != nil {
			return err
		}
		_, err := s.Chunks.deleteWhere(txn, docPrefix(uri), nil)
		return err
	})
}

// ReplaceChunks stores chunks as the RAG chunks of uri, replacing earlier
// ones.
func (s *Store) ReplaceChunks(ctx context.Context, uri string, chunks []string) ([]ChunkRecord, error) {
	out := make([]ChunkRecord, 0, len(chunks))
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := s.Chunks.deleteWhere(txn, docPrefix(uri), nil); err != nil {
			return err
		}
		for i, text := range chunks {
			sum := sha256.Sum256([]byte(text))
			rec := ChunkRecord{URI: uri, Index: i, Text: text, Hash: hex.EncodeToString(sum[:8])}
			if err := s.Chunks.put(txn, chunkKey(uri, i), rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChunksFor returns the RAG chunks of uri in order.
func (s *Store) ChunksFor(ctx context.Context, uri string) ([]ChunkRecord, error) {
	return s.Chunks.Select(ctx, docPrefix(uri), nil)
}
