// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ModelKeeper/cmd/modelkeeper/config"
	"github.com/AleutianAI/ModelKeeper/pkg/ux"
	"github.com/AleutianAI/ModelKeeper/services/readiness/installer"
	"github.com/AleutianAI/ModelKeeper/services/readiness/lifecycle"
	"github.com/AleutianAI/ModelKeeper/services/readiness/manifest"
	"github.com/AleutianAI/ModelKeeper/services/readiness/resume"
	"github.com/AleutianAI/ModelKeeper/services/readiness/storagepath"
)

// testBundle returns a small bundle whose content is served by testFetcher.
func testBundle() (manifest.Bundle, map[string][]byte) {
	content := map[string][]byte{}
	b := manifest.Bundle{ID: "test-bundle", DisplayName: "Test models"}
	for _, c := range manifest.Capabilities {
		body := []byte(strings.Repeat(string(c), 4096))
		sum := sha256.Sum256(body)
		url := "https://models.example.com/" + string(c) + ".bin"
		content[url] = body
		b.Items = append(b.Items, manifest.Artifact{
			ID:             string(c) + "-test",
			Capability:     c,
			DisplayName:    strings.ToUpper(string(c)) + " model",
			FileName:       string(c) + ".bin",
			DownloadURL:    url,
			ExpectedBytes:  int64(len(body)),
			ChecksumSHA256: hex.EncodeToString(sum[:]),
		})
	}
	return b, content
}

type countingFetcher struct {
	content map[string][]byte
	calls   atomic.Int32
}

func (f *countingFetcher) Fetch(_ context.Context, url string, _ http.Header) (*installer.Response, error) {
	f.calls.Add(1)
	body, ok := f.content[url]
	if !ok {
		return &installer.Response{StatusCode: http.StatusNotFound, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	h := http.Header{}
	h.Set("Content-Length", fmt.Sprint(len(body)))
	return &installer.Response{StatusCode: http.StatusOK, Header: h, Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func testConfig(t *testing.T) config.ModelKeeperConfig {
	t.Helper()
	home := t.TempDir()
	cfg := config.DefaultConfig(home)
	cfg.Logging.Dir = ""
	cfg.Logging.Level = "error"

	bundle, _ := testBundle()
	data, err := yaml.Marshal(bundle)
	require.NoError(t, err)
	cfg.Manifest.Path = filepath.Join(home, "bundle.yaml")
	require.NoError(t, os.WriteFile(cfg.Manifest.Path, data, 0o644))
	return cfg
}

func testApp(t *testing.T, cfg config.ModelKeeperConfig) (*app, *countingFetcher) {
	t.Helper()
	_, content := testBundle()
	fetcher := &countingFetcher{content: content}
	a, err := newApp(context.Background(), cfg, appOptions{fetcher: fetcher, logOutput: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close(context.Background()) })
	return a, fetcher
}

func machinePrinter() (*ux.Printer, *bytes.Buffer) {
	var out bytes.Buffer
	return &ux.Printer{Out: &out, Err: &out, Level: ux.PersonalityMachine}, &out
}

func TestStatus_ReportsSetupRequiredWithoutDownloading(t *testing.T) {
	a, fetcher := testApp(t, testConfig(t))
	p, out := machinePrinter()

	require.NoError(t, status(context.Background(), a, p))
	assert.Contains(t, out.String(), "state=setup-required")
	assert.Contains(t, out.String(), "confirmation_required=true")
	assert.Zero(t, fetcher.calls.Load())
}

func TestInstall_WithYesDownloadsEverything(t *testing.T) {
	cfg := testConfig(t)
	a, fetcher := testApp(t, cfg)
	p, out := machinePrinter()

	require.NoError(t, install(context.Background(), a, p, true, nil))

	assert.Contains(t, out.String(), "state=ready")
	assert.EqualValues(t, 3, fetcher.calls.Load())
	for _, c := range manifest.Capabilities {
		_, err := os.Stat(filepath.Join(cfg.Storage.BaseDir, "models", string(c)+".bin"))
		assert.NoError(t, err, c)
	}
}

func TestInstall_DeclinedConfirmation(t *testing.T) {
	a, fetcher := testApp(t, testConfig(t))
	p, out := machinePrinter()

	var offered []lifecycle.ProgressLine
	err := install(context.Background(), a, p, false, func(lines []lifecycle.ProgressLine) (bool, error) {
		offered = lines
		return false, nil
	})
	require.NoError(t, err)

	assert.Len(t, offered, 3)
	assert.Contains(t, out.String(), "Download not approved")
	assert.Zero(t, fetcher.calls.Load())
}

func TestInstall_FailureReturnsError(t *testing.T) {
	a, _ := testApp(t, testConfig(t))
	a.svc.Close()

	p, _ := machinePrinter()
	err := install(context.Background(), a, p, true, nil)
	assert.ErrorIs(t, err, lifecycle.ErrClosed)
}

func TestNewApp_SecondProcessIsLockedOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("advisory locks are not enforced on this platform")
	}
	cfg := testConfig(t)
	testApp(t, cfg)

	_, err := newApp(context.Background(), cfg, appOptions{logOutput: io.Discard})
	assert.ErrorIs(t, err, storagepath.ErrLockHeld)
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	s, err := openStore(config.ResumeConfig{Backend: "json", Path: filepath.Join(dir, "resume.json")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &resume.JSONStore{}, s)

	b, err := openStore(config.ResumeConfig{Backend: "badger", Path: filepath.Join(dir, "badger")}, nil)
	require.NoError(t, err)
	require.IsType(t, &resume.BadgerStore{}, b)
	assert.NoError(t, b.(*resume.BadgerStore).Close())

	_, err = openStore(config.ResumeConfig{Backend: "sqlite", Path: dir}, nil)
	assert.Error(t, err)
}

func TestServe_ExposesAPIUntilCancelled(t *testing.T) {
	a, _ := testApp(t, testConfig(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		return a.svc.GetSnapshot().State == lifecycle.StateSetupRequired
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/v1/lifecycle/state")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"state":"setup-required"`)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "modelkeeper_lifecycle_transitions_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestProgressPrinter(t *testing.T) {
	p, out := machinePrinter()
	pp := newProgressPrinter(p)

	line := func(status lifecycle.ProgressStatus, pct int) lifecycle.Snapshot {
		return lifecycle.Snapshot{
			State: lifecycle.StateDownloading,
			DownloadProgress: []lifecycle.ProgressLine{
				{ArtifactID: "ok", Label: "Already there", Status: lifecycle.ProgressComplete, Percent: 100},
				{ArtifactID: "stt", Label: "Speech model", Status: status, Percent: pct},
			},
		}
	}
	pp.onSnapshot(line(lifecycle.ProgressDownloading, 10))
	pp.onSnapshot(line(lifecycle.ProgressDownloading, 50))
	pp.onSnapshot(line(lifecycle.ProgressVerifying, 100))
	pp.onSnapshot(line(lifecycle.ProgressComplete, 100))
	pp.onSnapshot(lifecycle.Snapshot{State: lifecycle.StateReady})

	assert.Equal(t, strings.Join([]string{
		"Speech model: downloading 10%",
		"Speech model: downloading 50%",
		"Speech model: verifying checksum",
		"OK: Speech model: installed",
	}, "\n")+"\n", out.String())
}
