// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnknownLevel) {
				t.Errorf("error %v does not wrap ErrUnknownLevel", err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_ConsoleFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Console: &buf})

	logger.Info("hidden")
	logger.Warn("shown", "artifact", "stt")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "artifact=stt") {
		t.Errorf("warn record missing: %s", out)
	}
	if !strings.Contains(out, "service="+DefaultService) {
		t.Errorf("service attribute missing: %s", out)
	}
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Console: &buf, JSON: true, Service: "test"})
	logger.Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("console output is not JSON: %v", err)
	}
	if rec["msg"] != "hello" || rec["service"] != "test" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	logger := New(Config{LogDir: dir, Console: &console, Service: "svc"})
	logger.Info("to both")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := filepath.Join(dir, "svc_"+time.Now().Format("2006-01-02")+".log")
	if logger.FilePath() != want {
		t.Errorf("FilePath() = %q, want %q", logger.FilePath(), want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to both"`) {
		t.Errorf("file missing record: %s", data)
	}
	if !strings.Contains(console.String(), "to both") {
		t.Errorf("console missing record: %s", console.String())
	}
}

func TestNew_UnusableLogDirFallsBackToConsole(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	var console bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Console: &console})

	if logger.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", logger.FilePath())
	}
	if !strings.Contains(console.String(), "file logging disabled") {
		t.Errorf("expected fallback warning, got %s", console.String())
	}
}

func TestNew_QuietWithoutFileDiscards(t *testing.T) {
	logger := New(Config{Quiet: true})
	logger.Error("nowhere")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSlog_SharesHandlers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Console: &buf})
	logger.Slog().With(slog.String("check_id", "abc")).Info("via slog")
	if !strings.Contains(buf.String(), "check_id=abc") {
		t.Errorf("slog record missing attrs: %s", buf.String())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}

func TestWith_AddsAttrsWithoutOwningFile(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Console: &buf, LogDir: t.TempDir()})
	child := parent.With("command", "serve")
	child.Info("child record")

	if !strings.Contains(buf.String(), "command=serve") {
		t.Errorf("child attrs missing: %s", buf.String())
	}
	if err := child.Close(); err != nil {
		t.Errorf("child Close() error = %v", err)
	}
	if err := parent.Close(); err != nil {
		t.Errorf("parent Close() error = %v", err)
	}
}
