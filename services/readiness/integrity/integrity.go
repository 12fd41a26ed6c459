// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integrity computes and compares SHA-256 digests of model artifacts.
//
// Digests are always computed by streaming the file through the hash, so a
// multi-gigabyte language model never has to fit in memory.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// chunkSize is the read buffer used while hashing.
const chunkSize = 1 << 20

// SHA256File streams the file at path through SHA-256.
//
// # Description
//
// Reads the file in fixed-size chunks and returns the lowercase hex digest.
// Cancellation is checked between chunks.
//
// # Inputs
//
//   - ctx: Cancels a long-running hash between chunks.
//   - path: File to hash.
//
// # Outputs
//
//   - string: 64 character lowercase hex digest.
//   - error: Filesystem errors are returned unwrapped so callers can classify
//     them with errors.Is / os.IsNotExist. Returns ctx.Err() on cancellation.
//
// # Examples
//
//	digest, err := integrity.SHA256File(ctx, "/models/ggml-base.en-q5_1.bin")
func SHA256File(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return SHA256Reader(ctx, f)
}

// SHA256Reader hashes everything readable from r.
func SHA256Reader(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether two hex digests are equal, ignoring case and
// surrounding whitespace.
func Matches(actual, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(expected))
}

// Result is the outcome of VerifyFile.
type Result struct {
	// Actual is the lowercase digest computed from disk.
	Actual string
	// Expected is the digest the caller asked for, as given.
	Expected string
	// OK is true when Actual matches Expected.
	OK bool
}

// VerifyFile hashes path and compares it against expected.
//
// A mismatch is not an error; it is reported through Result.OK. Errors are
// reserved for the file being unreadable.
func VerifyFile(ctx context.Context, path, expected string) (Result, error) {
	actual, err := SHA256File(ctx, path)
	if err != nil {
		return Result{Expected: expected}, err
	}
	return Result{Actual: actual, Expected: expected, OK: Matches(actual, expected)}, nil
}

// String renders the comparison for log lines and diagnostics.
func (r Result) String() string {
	if r.OK {
		return fmt.Sprintf("sha256 %s verified", r.Actual)
	}
	return fmt.Sprintf("sha256 mismatch: expected %s, got %s", strings.ToLower(r.Expected), r.Actual)
}
