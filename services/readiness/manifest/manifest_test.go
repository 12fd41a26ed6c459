// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	b := Default()
	require.NoError(t, Validate(b))
	assert.Equal(t, "scribe-valet-required-bundle-v1", b.ID)
	require.Len(t, b.Artifacts(), 3)

	got := make([]Capability, 0, 3)
	for _, a := range b.Artifacts() {
		got = append(got, a.Capability)
	}
	assert.Equal(t, []Capability{CapabilitySTT, CapabilityLLM, CapabilityTTS}, got)
}

func TestDefault_ReturnsIndependentCopy(t *testing.T) {
	b := Default()
	b.Items[0].FileName = "mutated.bin"
	assert.Equal(t, "ggml-base.en-q5_1.bin", RequiredArtifacts()[0].FileName)
}

func TestBundle_Lookups(t *testing.T) {
	b := Default()

	a, ok := b.ByID("tts-kokoro-v0_19-fp16")
	require.True(t, ok)
	assert.Equal(t, CapabilityTTS, a.Capability)

	a, ok = b.ByCapability(CapabilityLLM)
	require.True(t, ok)
	assert.Equal(t, "llm-qwen2.5-3b-instruct-q4_k_m", a.ID)

	_, ok = b.ByID("missing")
	assert.False(t, ok)
}

func TestArtifact_Label(t *testing.T) {
	assert.Equal(t, "Progress", Artifact{DisplayName: "Display", ProgressLabel: "Progress"}.Label())
	assert.Equal(t, "Display", Artifact{DisplayName: "Display"}.Label())
}

func TestValidate_Rejects(t *testing.T) {
	valid := func() Bundle { return Default() }

	tests := []struct {
		name   string
		mutate func(b *Bundle)
		want   string
	}{
		{"bad capability", func(b *Bundle) { b.Items[0].Capability = "vision" }, "oneof"},
		{"short checksum", func(b *Bundle) { b.Items[1].ChecksumSHA256 = "abc" }, "len"},
		{"non-hex checksum", func(b *Bundle) { b.Items[1].ChecksumSHA256 = strings.Repeat("z", 64) }, "hexadecimal"},
		{"bad url", func(b *Bundle) { b.Items[2].DownloadURL = "not a url" }, "url"},
		{"path in file name", func(b *Bundle) { b.Items[0].FileName = "../escape.bin" }, "excludesall"},
		{"empty bundle", func(b *Bundle) { b.Items = nil }, "required"},
		{"duplicate id", func(b *Bundle) { b.Items[1].ID = b.Items[0].ID }, "duplicate artifact id"},
		{"duplicate file", func(b *Bundle) { b.Items[1].FileName = b.Items[0].FileName }, "duplicate file name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(&b)
			err := Validate(b)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	content := `id: test-bundle
display_name: Test models
artifacts:
  - id: stt-tiny
    capability: stt
    display_name: Tiny STT
    progress_label: Speech
    file_name: tiny.bin
    download_url: https://example.com/tiny.bin
    expected_bytes: 11
    checksum_sha256: b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	b, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test-bundle", b.ID)
	require.Len(t, b.Items, 1)
	assert.Equal(t, int64(11), b.Items[0].ExpectedBytes)
	assert.Equal(t, "Speech", b.Items[0].Label())

	t.Run("invalid yaml", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("id: [unterminated"), 0o600))
		_, err := LoadFile(bad)
		assert.ErrorIs(t, err, ErrInvalidManifest)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "nope.yaml"))
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("empty path loads default", func(t *testing.T) {
		b, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default().ID, b.ID)
	})
}
