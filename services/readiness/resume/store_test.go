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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func newTestJSONStore(t *testing.T) *JSONStore {
	t.Helper()
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "state", "download-resume.json"), nil)
	require.NoError(t, err)
	store.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return store
}

func sampleEntry(id string) Entry {
	return Entry{
		ArtifactID:      id,
		PartialPath:     "/models/" + id + ".partial",
		BytesDownloaded: 4096,
		ETag:            `"abc123"`,
		LastModified:    "Wed, 21 Oct 2015 07:28:00 GMT",
	}
}

// =============================================================================
// JSONStore Tests
// =============================================================================

func TestNewJSONStore_EmptyPath(t *testing.T) {
	_, err := NewJSONStore("", nil)
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestJSONStore_MissingFileReadsEmpty(t *testing.T) {
	store := newTestJSONStore(t)
	entry, err := store.Get(context.Background(), "stt")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestJSONStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestJSONStore(t)
	want := sampleEntry("stt")

	require.NoError(t, store.Set(ctx, want))

	got, err := store.Get(ctx, "stt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.PartialPath, got.PartialPath)
	assert.Equal(t, want.BytesDownloaded, got.BytesDownloaded)
	assert.Equal(t, want.ETag, got.ETag)
	assert.Equal(t, want.LastModified, got.LastModified)
	assert.Equal(t, int64(1_700_000_000_000), got.UpdatedAtMs)
}

func TestJSONStore_WritesIndentedDocumentWithoutTempFile(t *testing.T) {
	ctx := context.Background()
	store := newTestJSONStore(t)
	require.NoError(t, store.Set(ctx, sampleEntry("stt")))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"stt\": {")
	assert.Equal(t, byte('\n'), data[len(data)-1])

	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestJSONStore_StaleTempFileIsReplaced(t *testing.T) {
	ctx := context.Background()
	store := newTestJSONStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o750))
	stale := make([]byte, 64*1024)
	for i := range stale {
		stale[i] = '{'
	}
	require.NoError(t, os.WriteFile(store.Path()+".tmp", stale, 0o600))

	require.NoError(t, store.Set(ctx, sampleEntry("stt")))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "stt")
	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestJSONStore_FailedTempWriteKeepsDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestJSONStore(t)
	require.NoError(t, store.Set(ctx, sampleEntry("stt")))
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(store.Path()+".tmp", 0o750))
	err = store.Set(ctx, sampleEntry("llm"))

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "write", storeErr.Op)
	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestJSONStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := newTestJSONStore(t)
	require.NoError(t, store.Set(ctx, sampleEntry("stt")))
	require.NoError(t, store.Set(ctx, sampleEntry("llm")))

	require.NoError(t, store.Delete(ctx, "stt"))
	require.NoError(t, store.Delete(ctx, "never-existed"))

	got, err := store.Get(ctx, "stt")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Get(ctx, "llm")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestJSONStore_SetRejectsInvalidEntry(t *testing.T) {
	store := newTestJSONStore(t)
	tests := []struct {
		name  string
		entry Entry
	}{
		{"no id", Entry{PartialPath: "/x.partial"}},
		{"no partial path", Entry{ArtifactID: "stt"}},
		{"negative bytes", Entry{ArtifactID: "stt", PartialPath: "/x.partial", BytesDownloaded: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Set(context.Background(), tt.entry)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestJSONStore_CorruptEntryDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	store := newTestJSONStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o750))

	doc := map[string]any{
		"good":          map[string]any{"partialPath": "/m/good.partial", "bytesDownloaded": 10, "etag": `"e"`, "updatedAtMs": 5},
		"negative":      map[string]any{"partialPath": "/m/neg.partial", "bytesDownloaded": -3},
		"no-path":       map[string]any{"bytesDownloaded": 10},
		"no-bytes":      map[string]any{"partialPath": "/m/nb.partial"},
		"wrong-type":    "not an object",
		"string-number": map[string]any{"partialPath": "/m/s.partial", "bytesDownloaded": "12"},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0o600))

	good, err := store.Get(ctx, "good")
	require.NoError(t, err)
	require.NotNil(t, good)
	assert.Equal(t, int64(10), good.BytesDownloaded)
	assert.Equal(t, int64(5), good.UpdatedAtMs)
	assert.Equal(t, "good", good.ArtifactID)

	for _, id := range []string{"negative", "no-path", "no-bytes", "wrong-type", "string-number"} {
		got, err := store.Get(ctx, id)
		require.NoError(t, err, id)
		assert.Nil(t, got, id)
	}

	require.NoError(t, store.Set(ctx, sampleEntry("fresh")))
	entries, err := store.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fresh", entries[0].ArtifactID)
	assert.Equal(t, "good", entries[1].ArtifactID)
}

func TestJSONStore_MissingUpdatedAtIsStampedOnRead(t *testing.T) {
	store := newTestJSONStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o750))
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"stt":{"partialPath":"/p","bytesDownloaded":0}}`), 0o600))

	got, err := store.Get(context.Background(), "stt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1_700_000_000_000), got.UpdatedAtMs)
}

func TestJSONStore_UnparseableDocumentReadsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestJSONStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o750))
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"stt": {`), 0o600))

	got, err := store.Get(ctx, "stt")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Set(ctx, sampleEntry("stt")))
	got, err = store.Get(ctx, "stt")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestJSONStore_CancelledContext(t *testing.T) {
	store := newTestJSONStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "stt")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Set(ctx, sampleEntry("stt")), context.Canceled)
	assert.ErrorIs(t, store.Delete(ctx, "stt"), context.Canceled)
}

// =============================================================================
// Entry Tests
// =============================================================================

func TestEntry_Validator(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{"strong etag", Entry{ETag: `"v1"`, LastModified: "date"}, `"v1"`},
		{"weak etag falls back to last-modified", Entry{ETag: `W/"v1"`, LastModified: "date"}, "date"},
		{"weak etag alone", Entry{ETag: `W/"v1"`}, ""},
		{"last-modified only", Entry{LastModified: "date"}, "date"},
		{"nothing", Entry{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Validator())
		})
	}
}

// =============================================================================
// Clear Tests
// =============================================================================

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := newTestJSONStore(t)
	partial := filepath.Join(t.TempDir(), "model.bin.partial")
	require.NoError(t, os.WriteFile(partial, []byte("partial"), 0o600))

	entry := sampleEntry("stt")
	entry.PartialPath = partial
	require.NoError(t, store.Set(ctx, entry))

	require.NoError(t, Clear(ctx, store, "stt", partial))

	got, err := store.Get(ctx, "stt")
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = os.Stat(partial)
	assert.True(t, os.IsNotExist(err))

	// Second clear is a no-op.
	assert.NoError(t, Clear(ctx, store, "stt", partial))
}
