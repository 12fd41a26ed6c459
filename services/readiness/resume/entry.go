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
	"encoding/json"
	"strings"
	"time"
)

// Entry is the in-progress download state for one artifact.
//
// An entry exists only while the artifact's ".partial" file exists. It is
// removed on successful install, on integrity failure, and when a download
// restarts from scratch (a fresh entry at offset 0 replaces it).
type Entry struct {
	ArtifactID      string `json:"artifactId"`
	PartialPath     string `json:"partialPath"`
	BytesDownloaded int64  `json:"bytesDownloaded"`
	ETag            string `json:"etag,omitempty"`
	LastModified    string `json:"lastModified,omitempty"`
	UpdatedAtMs     int64  `json:"updatedAtMs"`
}

// Validator returns the value to send as If-Range when resuming.
//
// A strong ETag wins. Weak ETags ("W/...") cannot be used with If-Range, so
// the Last-Modified date is used instead. An empty string means the caller
// must send Range alone.
func (e Entry) Validator() string {
	if e.ETag != "" && !strings.HasPrefix(e.ETag, "W/") {
		return e.ETag
	}
	return e.LastModified
}

// valid reports whether the entry would survive a read.
func (e Entry) valid() bool {
	return e.ArtifactID != "" && e.PartialPath != "" && e.BytesDownloaded >= 0
}

// rawEntry mirrors Entry with optional fields so that a record missing
// required keys can be told apart from one holding zero values.
type rawEntry struct {
	PartialPath     *string `json:"partialPath"`
	BytesDownloaded *int64  `json:"bytesDownloaded"`
	ETag            *string `json:"etag"`
	LastModified    *string `json:"lastModified"`
	UpdatedAtMs     *int64  `json:"updatedAtMs"`
}

// decodeEntry parses one stored record. The map key is authoritative for the
// artifact id. ok is false for records that must be dropped.
func decodeEntry(artifactID string, data []byte, now time.Time) (Entry, bool) {
	var raw rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, false
	}
	if raw.PartialPath == nil || *raw.PartialPath == "" {
		return Entry{}, false
	}
	if raw.BytesDownloaded == nil || *raw.BytesDownloaded < 0 {
		return Entry{}, false
	}

	entry := Entry{
		ArtifactID:      artifactID,
		PartialPath:     *raw.PartialPath,
		BytesDownloaded: *raw.BytesDownloaded,
		UpdatedAtMs:     now.UnixMilli(),
	}
	if raw.ETag != nil {
		entry.ETag = *raw.ETag
	}
	if raw.LastModified != nil {
		entry.LastModified = *raw.LastModified
	}
	if raw.UpdatedAtMs != nil {
		entry.UpdatedAtMs = *raw.UpdatedAtMs
	}
	return entry, true
}

func marshalEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}
