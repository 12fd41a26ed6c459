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
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/ModelKeeper/pkg/ux"
	"github.com/AleutianAI/ModelKeeper/services/readiness/handlers"
	"github.com/AleutianAI/ModelKeeper/services/readiness/routes"
	"github.com/AleutianAI/ModelKeeper/services/readiness/storagepath"
)

const (
	shutdownTimeout  = 10 * time.Second
	overrideDebounce = 250 * time.Millisecond
)

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, p *ux.Printer) error {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ln, err := net.Listen("tcp", a.cfg.Server.Addr)
		if err != nil {
			return err
		}
		p.Success("Readiness API listening on http://" + ln.Addr().String())
		return serve(ctx, a, ln)
	})
}

// newRouter builds the HTTP API for a.
func newRouter(a *app) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("modelkeeper"))

	h := handlers.New(a.svc, a.logger.Slog().With(slog.String("component", "http")))
	routes.SetupRoutes(router, h, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return router
}

// serve runs the API on ln until ctx is cancelled. The first check starts
// immediately and a new one runs whenever the storage override file changes
// on disk.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	logger := a.logger.Slog()
	srv := &http.Server{
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := a.svc.StartCheck(ctx); err != nil {
			logger.Error("startup check failed", slog.String("error", err.Error()))
		}
	}()

	if err := os.MkdirAll(filepath.Dir(a.resolver.OverridePath()), 0o750); err != nil {
		return err
	}
	watcher := storagepath.NewWatcher(a.resolver.OverridePath(), overrideDebounce, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := watcher.Run(ctx, func() {
			logger.Info("storage override changed on disk, re-checking")
			if _, err := a.svc.StartCheck(ctx); err != nil {
				logger.Error("re-check failed", slog.String("error", err.Error()))
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("storage override watcher stopped", slog.String("error", err.Error()))
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down readiness API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
