// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provenance

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotIndexed is returned when a request id has no audit entry in the
// index.
var ErrNotIndexed = errors.New("request id not indexed")

// Index maps request ids to their audit entries in an embedded BadgerDB,
// so the replay CLI can show a single invocation without scanning the
// whole log.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Index struct {
	db *badger.DB
}

// OpenIndex opens (creating if needed) a persistent index at dir.
func OpenIndex(dir string) (*Index, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open provenance index %s: %w", dir, err)
	}
	return &Index{db: db}, nil
}

// OpenInMemoryIndex opens a non-persistent index. Used by tests and by the
// replay CLI when rebuilding from a log file.
func OpenInMemoryIndex() (*Index, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory provenance index: %w", err)
	}
	return &Index{db: db}, nil
}

// Put records one audit entry under its request id. Later entries for the
// same request id overwrite earlier ones; retried invocations carry fresh
// request ids so overwriting only happens on duplicate appends.
func (ix *Index) Put(entry Entry) error {
	if entry.RequestID == "" {
		return fmt.Errorf("index put: entry has no request id")
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("index put %s: %w", entry.RequestID, err)
	}
	err = ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entry.RequestID), value)
	})
	if err != nil {
		return fmt.Errorf("index put %s: %w", entry.RequestID, err)
	}
	return nil
}

// Get returns the audit entry recorded for a request id.
func (ix *Index) Get(requestID string) (Entry, error) {
	var entry Entry
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(requestID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotIndexed, requestID)
			}
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &entry)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotIndexed) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("index get %s: %w", requestID, err)
	}
	return entry, nil
}

// IngestLog indexes every entry of an audit log stream. Malformed lines
// abort the ingest; a verified log always ingests cleanly.
func (ix *Index) IngestLog(r io.Reader) (int, error) {
	count := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return count, fmt.Errorf("%w: line %d", ErrMalformedEntry, count+1)
		}
		if err := ix.Put(entry); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("ingest scan: %w", err)
	}
	return count, nil
}

// Close releases the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}
