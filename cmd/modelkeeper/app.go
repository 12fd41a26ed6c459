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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AleutianAI/ModelKeeper/cmd/modelkeeper/config"
	"github.com/AleutianAI/ModelKeeper/pkg/logging"
	"github.com/AleutianAI/ModelKeeper/services/readiness/installer"
	"github.com/AleutianAI/ModelKeeper/services/readiness/lifecycle"
	"github.com/AleutianAI/ModelKeeper/services/readiness/manifest"
	"github.com/AleutianAI/ModelKeeper/services/readiness/observability"
	"github.com/AleutianAI/ModelKeeper/services/readiness/resume"
	"github.com/AleutianAI/ModelKeeper/services/readiness/storagepath"
)

// app owns every long-lived component built from the configuration.
type app struct {
	cfg      config.ModelKeeperConfig
	logger   *logging.Logger
	registry *prometheus.Registry
	bundle   manifest.Bundle
	resolver *storagepath.Resolver
	store    resume.Store
	svc      *lifecycle.Service

	lock           *storagepath.Lock
	closers        []io.Closer
	shutdownTracer func(context.Context)
}

// appOptions are test hooks.
type appOptions struct {
	fetcher   installer.Fetcher
	logOutput io.Writer
}

// newApp wires the engine. The data directory lock is taken first so that
// only one process writes the resume store and partial files.
func newApp(ctx context.Context, cfg config.ModelKeeperConfig, opts appOptions) (_ *app, err error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, shutdownTracer: func(context.Context) {}}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: logging.DefaultService,
		JSON:    cfg.Logging.JSON,
		Console: opts.logOutput,
	})
	logger := a.logger.Slog()

	a.lock, err = storagepath.AcquireLock(cfg.Storage.BaseDir)
	if err != nil {
		return nil, err
	}

	a.shutdownTracer, err = observability.InitTracer(ctx, observability.TracingConfig{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: logging.DefaultService,
	})
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(a.registry)

	a.bundle, err = manifest.Load(cfg.Manifest.Path)
	if err != nil {
		return nil, err
	}

	a.store, err = openStore(cfg.Resume, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := a.store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.resolver = storagepath.NewResolver(storagepath.Defaults(cfg.Storage.BaseDir), cfg.Storage.OverrideFile)

	fetcher := opts.fetcher
	if fetcher == nil {
		fetcher = installer.NewHTTPFetcher(installer.HTTPFetcherOptions{
			Timeout:   cfg.Download.Timeout(),
			UserAgent: cfg.Download.UserAgent,
		})
	}
	inst := installer.New(fetcher,
		installer.WithLogger(logger.With(slog.String("component", "installer"))),
		installer.WithMetrics(metrics))

	a.svc, err = lifecycle.New(lifecycle.Config{
		Artifacts:        a.bundle.Artifacts(),
		BannerEscalation: cfg.Lifecycle.BannerEscalation(),
		Retry: lifecycle.RetryPolicy{
			MaxAttempts:          cfg.Lifecycle.MaxAttempts,
			TransientMaxAttempts: cfg.Lifecycle.TransientMaxAttempts,
		},
		ReadyToast:       cfg.Lifecycle.ReadyToast,
		ProgressInterval: cfg.Lifecycle.ProgressInterval(),
	}, lifecycle.Deps{
		Paths:     a.resolver,
		Overrides: a.resolver,
		Installer: inst,
		Store:     a.store,
		Logger:    logger.With(slog.String("component", "lifecycle")),
		Metrics:   metrics,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.svc)

	logger.Debug("engine initialized",
		slog.String("base_dir", cfg.Storage.BaseDir),
		slog.String("resume_backend", cfg.Resume.Backend),
		slog.String("bundle", a.bundle.ID))
	return a, nil
}

// openStore opens the configured resume backend.
func openStore(cfg config.ResumeConfig, logger *slog.Logger) (resume.Store, error) {
	switch cfg.Backend {
	case "", "json":
		return resume.NewJSONStore(cfg.Path, logger)
	case "badger":
		bc := resume.DefaultBadgerConfig(filepath.Clean(cfg.Path))
		bc.Logger = logger
		return resume.OpenBadgerStore(bc)
	default:
		return nil, fmt.Errorf("unknown resume backend %q", cfg.Backend)
	}
}

// close releases everything in reverse order of construction.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdownTracer(ctx)
	if err := a.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
