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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Resolution
// =============================================================================

func TestResolve(t *testing.T) {
	defaults := Defaults("/home/u/.modelkeeper")

	tests := []struct {
		name     string
		override Override
		want     Paths
	}{
		{
			name:     "defaults",
			override: Override{},
			want:     defaults,
		},
		{
			name:     "custom root",
			override: Override{CustomRoot: "/data/ai/"},
			want: Paths{
				CategoryModels: "/data/ai/models",
				CategoryConfig: "/data/ai/config",
				CategoryTools:  "/data/ai/tools",
				CategoryLogs:   "/data/ai/logs",
			},
		},
		{
			name: "category override wins over custom root",
			override: Override{
				CustomRoot:        "/data/ai",
				CategoryOverrides: map[Category]string{CategoryModels: " /fast-disk/models "},
			},
			want: Paths{
				CategoryModels: "/fast-disk/models",
				CategoryConfig: "/data/ai/config",
				CategoryTools:  "/data/ai/tools",
				CategoryLogs:   "/data/ai/logs",
			},
		},
		{
			name:     "blank values are ignored",
			override: Override{CustomRoot: "   ", CategoryOverrides: map[Category]string{CategoryLogs: ""}},
			want:     defaults,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := Resolve(defaults, tt.override)
			assert.Equal(t, tt.want, state.Active)
			assert.Equal(t, defaults, state.Defaults)
		})
	}
}

func TestNormalizeCustomRoot(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr error
	}{
		{"/data/ai", "/data/ai", nil},
		{"  /data/ai/  ", "/data/ai", nil},
		{"/data/ai/models", "/data/ai", nil},
		{"/data/ai/Models/", "/data/ai", nil},
		{"/data/./ai//models-v2", "/data/ai/models-v2", nil},
		{"", "", ErrEmptyCustomRoot},
		{"   ", "", ErrEmptyCustomRoot},
		{"relative/dir", "", ErrRelativeCustomRoot},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeCustomRoot(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Resolver
// =============================================================================

func TestResolver_LoadWithoutOverrideCreatesDefaults(t *testing.T) {
	base := t.TempDir()
	r := NewResolver(Defaults(base), filepath.Join(base, "config", OverrideFileName))

	state, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "models"), state.Active.Models())

	for _, c := range Categories {
		info, err := os.Stat(state.Active[c])
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestResolver_SaveAndReload(t *testing.T) {
	base := t.TempDir()
	custom := filepath.Join(t.TempDir(), "elsewhere")
	r := NewResolver(Defaults(base), filepath.Join(base, "config", OverrideFileName))
	ctx := context.Background()

	_, err := r.SaveOverride(ctx, Override{
		CategoryOverrides: map[Category]string{
			CategoryModels: filepath.Join(base, "pinned-models"),
			CategoryLogs:   filepath.Join(base, "pinned-logs"),
		},
	})
	require.NoError(t, err)

	saved, err := r.SetCustomRoot(ctx, custom)
	require.NoError(t, err)
	assert.Equal(t, custom, saved.CustomRoot)
	assert.NotContains(t, saved.CategoryOverrides, CategoryModels)

	state, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(custom, "models"), state.Active.Models())
	assert.Equal(t, filepath.Join(base, "pinned-logs"), state.Active[CategoryLogs])

	data, err := os.ReadFile(r.OverridePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: 1")
	_, err = os.Stat(r.OverridePath() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestResolver_CorruptOverride(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, OverrideFileName)
	require.NoError(t, os.WriteFile(path, []byte("custom_root: [oops"), 0o600))

	_, err := NewResolver(Defaults(base), path).Load(context.Background())
	var pe *PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "parse", pe.Op)
}

func TestResolver_UncreatableDirectory(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o600))

	r := NewResolver(Defaults(blocker), filepath.Join(base, OverrideFileName))
	_, err := r.Load(context.Background())
	var pe *PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "create", pe.Op)
}

// =============================================================================
// Watcher
// =============================================================================

func TestWatcher_ReportsExternalEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, OverrideFileName)
	w := NewWatcher(path, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func() { changes <- struct{}{} }) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("custom_root: /data\n"), 0o600))

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

// =============================================================================
// Lock
// =============================================================================

func TestLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	again, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}
