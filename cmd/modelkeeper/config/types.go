// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"path/filepath"
	"time"
)

type ModelKeeperConfig struct {
	// Storage: where models, config, tools and logs live
	Storage StorageConfig `yaml:"storage"`

	// Resume: backend holding partial-download metadata
	Resume ResumeConfig `yaml:"resume"`

	// Manifest: optional override of the built-in artifact bundle
	Manifest ManifestConfig `yaml:"manifest"`

	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Download  DownloadConfig  `yaml:"download"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type StorageConfig struct {
	BaseDir      string `yaml:"base_dir" validate:"required"`
	OverrideFile string `yaml:"override_file" validate:"required"`
}

type ResumeConfig struct {
	Backend string `yaml:"backend" validate:"oneof=json badger"`
	Path    string `yaml:"path" validate:"required"`
}

type ManifestConfig struct {
	Path string `yaml:"path,omitempty"` // empty means the built-in bundle
}

type LifecycleConfig struct {
	BannerEscalationMs   int  `yaml:"banner_escalation_ms" validate:"gte=0"`
	MaxAttempts          int  `yaml:"max_attempts" validate:"gte=1"`
	TransientMaxAttempts int  `yaml:"transient_max_attempts" validate:"gtefield=MaxAttempts"`
	ReadyToast           bool `yaml:"ready_toast"`
	ProgressIntervalMs   int  `yaml:"progress_interval_ms" validate:"gte=0"`
}

type DownloadConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gte=0"` // 0 = no overall timeout
	UserAgent      string `yaml:"user_agent"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
}

// BannerEscalation returns the banner threshold as a duration.
func (c LifecycleConfig) BannerEscalation() time.Duration {
	return time.Duration(c.BannerEscalationMs) * time.Millisecond
}

// ProgressInterval returns the progress throttle as a duration.
func (c LifecycleConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}

// Timeout returns the overall download timeout, zero for none.
func (c DownloadConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultConfig returns the configuration written on first run. All paths
// live under home.
func DefaultConfig(home string) ModelKeeperConfig {
	return ModelKeeperConfig{
		Storage: StorageConfig{
			BaseDir:      home,
			OverrideFile: filepath.Join(home, "config", "storage-path-overrides.yaml"),
		},
		Resume: ResumeConfig{
			Backend: "json",
			Path:    filepath.Join(home, "config", "download-resume-state.json"),
		},
		Lifecycle: LifecycleConfig{
			BannerEscalationMs:   3000,
			MaxAttempts:          3,
			TransientMaxAttempts: 5,
			ReadyToast:           true,
			ProgressIntervalMs:   250,
		},
		Download: DownloadConfig{
			UserAgent: "modelkeeper/1.0",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:12320",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(home, "logs"),
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}
