// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package installer

import (
	"fmt"
	"net/http"
)

// Code is the closed failure taxonomy for one install attempt. Callers branch
// on Code and Hint only, never on Message.
type Code string

const (
	// CodeNetwork covers request failures and interrupted body streams.
	CodeNetwork Code = "network-error"
	// CodeHTTP is any response status the installer cannot use.
	CodeHTTP Code = "http-error"
	// CodeIntegrity means the downloaded bytes did not hash to the expected digest.
	CodeIntegrity Code = "integrity-mismatch"
	// CodeFilesystem covers local I/O and resume-store failures.
	CodeFilesystem Code = "filesystem-error"
)

// Hint tells the caller how a failure may be recovered.
type Hint string

const (
	HintRetryableNetwork     Hint = "retryable-network"
	HintRetryableServer      Hint = "retryable-server"
	HintManualCheckURL       Hint = "manual-check-url"
	HintClearPartialAndRetry Hint = "clear-partial-and-retry"
	HintCheckDiskPermissions Hint = "check-disk-permissions"
)

// HintFor derives the retry hint for a code. status only matters for CodeHTTP.
func HintFor(code Code, status int) Hint {
	switch code {
	case CodeNetwork:
		return HintRetryableNetwork
	case CodeHTTP:
		if status >= http.StatusInternalServerError {
			return HintRetryableServer
		}
		return HintManualCheckURL
	case CodeIntegrity:
		return HintClearPartialAndRetry
	default:
		return HintCheckDiskPermissions
	}
}

// ActionForHint returns the human action text shown next to a failure.
func ActionForHint(h Hint) string {
	switch h {
	case HintRetryableNetwork:
		return "Check your internet connection, then retry. The download resumes where it stopped."
	case HintRetryableServer:
		return "The download server is having trouble. Wait a moment, then retry."
	case HintManualCheckURL:
		return "The download source rejected the request. Open the source URL to confirm it is still reachable."
	case HintClearPartialAndRetry:
		return "The downloaded file was corrupted and has been removed. Retry to download it again."
	case HintCheckDiskPermissions:
		return "Check free disk space and write permissions for the model folder, or change the model path."
	default:
		return "Retry, change the model path, or copy diagnostics for support."
	}
}

// IsTransient reports whether a hint describes a condition that usually
// clears on its own.
func IsTransient(code Code, hint Hint) bool {
	return code == CodeNetwork || hint == HintRetryableNetwork || hint == HintRetryableServer
}

// Failure is the structured failure case of an Outcome.
//
// # Description
//
// Every install error is reported as a Failure so that the caller always has
// a Code and a Hint. HTTPStatus is 0 when no usable response was received.
// ActualSHA256 is empty unless the digest was computed.
type Failure struct {
	ArtifactID           string `json:"artifactId"`
	Code                 Code   `json:"code"`
	Hint                 Hint   `json:"hint"`
	Message              string `json:"message"`
	HTTPStatus           int    `json:"httpStatus,omitempty"`
	ResumedFromBytes     int64  `json:"resumedFromBytes"`
	RestartedFromScratch bool   `json:"restartedFromScratch"`
	ExpectedSHA256       string `json:"expectedSha256"`
	ActualSHA256         string `json:"actualSha256,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Transient reports whether the failure is worth an extended retry budget.
func (f *Failure) Transient() bool {
	return IsTransient(f.Code, f.Hint)
}

// Action returns the human action text for the failure's hint.
func (f *Failure) Action() string {
	return ActionForHint(f.Hint)
}

// Outcome is the result of one Install call.
//
// Exactly one case holds: Failure is nil and the success fields are set, or
// Failure is non-nil and the success fields other than ArtifactID are zero.
type Outcome struct {
	ArtifactID           string
	FilePath             string
	ResumedFromBytes     int64
	RestartedFromScratch bool
	SHA256               string

	Failure *Failure
}

// OK reports whether the artifact was installed and verified.
func (o Outcome) OK() bool {
	return o.Failure == nil
}
