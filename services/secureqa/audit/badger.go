// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerSink appends entries to an embedded BadgerDB. Keys are ordered by
// append time, so a prefix scan over "audit/" replays the trail in order.
type BadgerSink struct {
	db *badger.DB
}

// NewBadgerSink opens (or creates) a BadgerDB at dir. SyncWrites is on: an
// audit trail that can lose acknowledged entries on power loss is not one.
func NewBadgerSink(dir string) (*BadgerSink, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit directory %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

// Append stores the entry under audit/<unix-nanos>/<request-id>. The
// timestamp prefix keeps the keyspace append-ordered; the request id suffix
// disambiguates entries landing in the same nanosecond.
func (s *BadgerSink) Append(_ context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	key := fmt.Sprintf("audit/%020d/%s", entry.Timestamp.UnixNano(), entry.RequestID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BadgerSink) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("Failed to close the audit database", "error", err)
		return err
	}
	return nil
}
