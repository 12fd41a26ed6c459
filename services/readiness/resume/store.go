// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resume persists partial-download state so that interrupted model
// downloads continue where they left off.
//
// Two backends implement Store:
//
//   - JSONStore: a single JSON document, rewritten through a temp file and an
//     atomic rename. This is the default.
//   - BadgerStore: an embedded BadgerDB keyed by artifact id.
//
// # Thread Safety
//
// Both backends serialize their own operations, but callers must still ensure
// that only one installer is active per artifact id. The read-modify-write of
// a single entry is not transactional across Get and Set.
package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Store is the persistence contract used by the installer.
type Store interface {
	// Get returns the entry for artifactID, or nil when none exists.
	Get(ctx context.Context, artifactID string) (*Entry, error)

	// Set writes entry, stamping UpdatedAtMs with the current time.
	Set(ctx context.Context, entry Entry) error

	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, artifactID string) error
}

// Clear removes the resume entry for artifactID and its partial file.
//
// A missing partial file is not an error.
func Clear(ctx context.Context, store Store, artifactID, partialPath string) error {
	if err := store.Delete(ctx, artifactID); err != nil {
		return err
	}
	if err := os.Remove(partialPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StoreError{Op: "clear", Err: err}
	}
	return nil
}

// -----------------------------------------------------------------------------
// JSONStore
// -----------------------------------------------------------------------------

// JSONStore keeps every entry in one JSON object, shaped
// {"<artifactId>": Entry, ...}.
//
// # Description
//
// Each mutation reads the current document, applies the change and writes the
// whole document to "<path>.tmp" before renaming it over path. A crash during
// a write leaves the previous document intact.
//
// Records that fail validation are dropped on read and disappear on the next
// write. A document that is not a JSON object at all is treated as empty.
//
// # Thread Safety
//
// Safe for concurrent use within one process.
type JSONStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewJSONStore creates a store backed by the file at path.
//
// The file and its directory are created lazily on first write. A nil logger
// discards log output.
func NewJSONStore(path string, logger *slog.Logger) (*JSONStore, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &JSONStore{path: path, logger: logger, now: time.Now}, nil
}

// Path returns the location of the backing document.
func (s *JSONStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *JSONStore) Get(ctx context.Context, artifactID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return nil, err
	}
	entry, ok := state[artifactID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Set implements Store.
func (s *JSONStore) Set(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !entry.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntry, entry.ArtifactID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	entry.UpdatedAtMs = s.now().UnixMilli()
	state[entry.ArtifactID] = entry
	return s.write(state)
}

// Delete implements Store.
func (s *JSONStore) Delete(ctx context.Context, artifactID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := state[artifactID]; !ok {
		return nil
	}
	delete(state, artifactID)
	return s.write(state)
}

// Entries returns all valid entries sorted by artifact id.
func (s *JSONStore) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(state))
	for _, e := range state {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArtifactID < out[j].ArtifactID })
	return out, nil
}

func (s *JSONStore) read() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "read", Err: err}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("resume state unreadable, starting empty",
			"path", s.path,
			"error", err,
		)
		return map[string]Entry{}, nil
	}

	now := s.now()
	state := make(map[string]Entry, len(raw))
	for id, record := range raw {
		entry, ok := decodeEntry(id, record, now)
		if !ok {
			s.logger.Warn("dropping invalid resume entry", "artifact_id", id)
			continue
		}
		state[id] = entry
	}
	return state, nil
}

func (s *JSONStore) write(state map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return &StoreError{Op: "write", Err: err}
	}

	body, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	body = append(body, '\n')

	tmp := s.path + ".tmp"
	if err := writeSynced(tmp, body); err != nil {
		_ = os.Remove(tmp)
		return &StoreError{Op: "write", Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return &StoreError{Op: "write", Err: err}
	}
	return nil
}

// writeSynced writes body to path and flushes it to disk before returning,
// so a rename over the live document never exposes an empty file.
func writeSynced(path string, body []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
