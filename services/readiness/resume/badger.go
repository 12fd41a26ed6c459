// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces resume entries inside the database.
const keyPrefix = "resume/"

// BadgerConfig configures OpenBadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit. Default true via DefaultBadgerConfig.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable on-disk configuration at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on an embedded BadgerDB.
//
// # Description
//
// Each entry is one key ("resume/<artifactId>") holding the entry's JSON.
// Badger commits are atomic, so a crash never leaves a half-written record.
// Records that fail validation are skipped by Get and purged on the next Set
// or Delete of the same id.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// OpenBadgerStore opens (creating if needed) a BadgerDB-backed store.
//
// # Outputs
//
//   - *BadgerStore: Caller must Close it.
//   - error: ErrEmptyPath for an on-disk config without a path, or the
//     wrapped open failure.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, ErrEmptyPath
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, &StoreError{Op: "open", Err: err}
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return &BadgerStore{db: db, logger: logger, now: time.Now}, nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, artifactID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + artifactID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "read", Err: err}
	}

	entry, ok := decodeEntry(artifactID, data, s.now())
	if !ok {
		s.logger.Warn("dropping invalid resume entry", "artifact_id", artifactID)
		return nil, nil
	}
	return &entry, nil
}

// Set implements Store.
func (s *BadgerStore) Set(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !entry.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntry, entry.ArtifactID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	entry.UpdatedAtMs = s.now().UnixMilli()
	data, err := marshalEntry(entry)
	if err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+entry.ArtifactID), data)
	})
	if err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, artifactID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + artifactID))
	})
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Close releases the database. Further calls return ErrStoreClosed.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
