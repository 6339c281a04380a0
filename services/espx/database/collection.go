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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Filter selects values. A nil Filter matches everything.
type Filter[T any] func(T) bool

// Collection is a named keyspace of JSON values of type T.
//
// Thread Safety: Safe for concurrent use.
type Collection[T any] struct {
	db   *DB
	name string
}

// NewCollection binds a collection name to db.
func NewCollection[T any](db *DB, name string) *Collection[T] {
	return &Collection[T]{db: db, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) key(k string) []byte {
	return []byte(c.name + "/" + k)
}

// Create stores v under key, replacing any existing value.
func (c *Collection[T]) Create(ctx context.Context, key string, v T) error {
	return c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return c.put(txn, key, v)
	})
}

// Get returns the value under key.
//
// Outputs:
//
//	error - ErrNotFound when key has no value.
func (c *Collection[T]) Get(ctx context.Context, key string) (T, error) {
	var out T
	err := c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s/%s: %w", c.name, key, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("%w: get %s/%s: %v", ErrStore, c.name, key, err)
		}
		return item.Value(func(val []byte) error {
			return decode(val, &out)
		})
	})
	return out, err
}

// Select returns every value whose key starts with prefix and that passes
// filter, in key order.
func (c *Collection[T]) Select(ctx context.Context, prefix string, filter Filter[T]) ([]T, error) {
	var out []T
	err := c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = c.scan(txn, prefix, filter)
		return err
	})
	return out, err
}

// DeleteWhere deletes every value whose key starts with prefix and that
// passes filter. It returns how many were deleted.
func (c *Collection[T]) DeleteWhere(ctx context.Context, prefix string, filter Filter[T]) (int, error) {
	var n int
	err := c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var err error
		n, err = c.deleteWhere(txn, prefix, filter)
		return err
	})
	return n, err
}

func (c *Collection[T]) put(txn *badger.Txn, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", ErrCodec, c.name, key, err)
	}
	if err := txn.Set(c.key(key), data); err != nil {
		return fmt.Errorf("%w: set %s/%s: %v", ErrStore, c.name, key, err)
	}
	return nil
}

func (c *Collection[T]) scan(txn *badger.Txn, prefix string, filter Filter[T]) ([]T, error) {
	p := c.key(prefix)
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 32, Prefix: p})
	defer it.Close()

	var out []T
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error { return decode(val, &v) }); err != nil {
			return nil, err
		}
		if filter == nil || filter(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Collection[T]) deleteWhere(txn *badger.Txn, prefix string, filter Filter[T]) (int, error) {
	p := c.key(prefix)

	var keys [][]byte
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: filter != nil, PrefetchSize: 32, Prefix: p})
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		if filter != nil {
			var v T
			if err := item.Value(func(val []byte) error { return decode(val, &v) }); err != nil {
				it.Close()
				return 0, err
			}
			if !filter(v) {
				continue
			}
		}
		keys = append(keys, item.KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return 0, fmt.Errorf("%w: delete %s: %v", ErrStore, k, err)
		}
	}
	return len(keys), nil
}

func decode(val []byte, v any) error {
	if err := json.Unmarshal(val, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return nil
}
