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
	"errors"
	"fmt"
)

// Sentinel errors for the resume store.
var (
	// ErrStoreClosed is returned by BadgerStore after Close.
	ErrStoreClosed = errors.New("resume store is closed")

	// ErrInvalidEntry is returned by Set for entries that would be dropped on read.
	ErrInvalidEntry = errors.New("invalid resume entry")

	// ErrEmptyPath is returned when a store is constructed without a location.
	ErrEmptyPath = errors.New("resume store path must not be empty")
)

// StoreError wraps persistence failures with the operation that failed.
type StoreError struct {
	Op  string // Operation that failed ("read", "write", "delete")
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("resume store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}
