// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storagepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockFileName is created inside the data directory.
const LockFileName = ".modelkeeper.lock"

// ErrLockHeld is returned when another process owns the data directory.
var ErrLockHeld = errors.New("another modelkeeper process owns the data directory")

// Lock is an advisory, process-wide lock on a data directory. Holding it
// makes this process the only writer of the resume store and the partial
// files under the model root.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock takes the lock in dir without blocking.
//
// # Outputs
//
//   - *Lock: Held lock; call Release when done.
//   - error: ErrLockHeld if another process holds it.
//
// # Limitations
//
//   - Advisory only. On platforms without flock the lock always succeeds.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		return nil, err
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return &Lock{path: path, file: f}, nil
}

// Release frees the lock. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlock(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
