// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the readiness lifecycle over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/ModelKeeper/services/readiness/lifecycle"
	"github.com/AleutianAI/ModelKeeper/services/readiness/storagepath"
)

// LifecycleController is the part of *lifecycle.Service the handlers use.
type LifecycleController interface {
	GetSnapshot() lifecycle.Snapshot
	OnSnapshot(fn lifecycle.Listener) func()
	StartCheck(ctx context.Context) (lifecycle.Snapshot, error)
	Retry(ctx context.Context) (lifecycle.Snapshot, error)
	ConfirmDownload(ctx context.Context) (lifecycle.Snapshot, error)
	ChangePath(ctx context.Context, customRoot string) (lifecycle.Snapshot, error)
	CopyDiagnostics() string
}

// ChangePathRequest is the body of POST /v1/lifecycle/change-path.
type ChangePathRequest struct {
	CustomRoot string `json:"customRoot" binding:"required"`
}

// ReportResponse is the body of GET /v1/lifecycle/report.
type ReportResponse struct {
	OK     bool   `json:"ok"`
	Report string `json:"report"`
}

// ErrorResponse is returned with every non-2xx status. Snapshot is set when
// the failed operation still published one.
type ErrorResponse struct {
	Error    string              `json:"error"`
	Snapshot *lifecycle.Snapshot `json:"snapshot,omitempty"`
}

const (
	// streamBuffer is the number of snapshots queued per websocket client.
	streamBuffer = 16

	writeWait = 10 * time.Second
)

// Handlers serves the lifecycle API.
//
// # Description
//
// Check, retry and confirm calls block until the check settles and return
// the settled snapshot. Concurrent identical calls share one run.
//
// # Thread Safety
//
// Safe for concurrent use.
type Handlers struct {
	svc      LifecycleController
	logger   *slog.Logger
	flight   singleflight.Group
	upgrader websocket.Upgrader
}

// New creates Handlers for svc. A nil logger discards output.
func New(svc LifecycleController, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handlers{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetState returns the latest snapshot without starting a check.
func (h *Handlers) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetSnapshot())
}

// StartCheck runs a check.
func (h *Handlers) StartCheck(c *gin.Context) {
	h.coalesce(c, "check", h.svc.StartCheck)
}

// Retry runs a check after a failure. It shares a run with StartCheck.
func (h *Handlers) Retry(c *gin.Context) {
	h.coalesce(c, "check", h.svc.Retry)
}

// ConfirmDownload records consent and runs a check.
func (h *Handlers) ConfirmDownload(c *gin.Context) {
	h.coalesce(c, "confirm", h.svc.ConfirmDownload)
}

// ChangePath moves the model storage root.
func (h *Handlers) ChangePath(c *gin.Context) {
	var req ChangePathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "customRoot is required"})
		return
	}

	snap, err := h.svc.ChangePath(c.Request.Context(), req.CustomRoot)
	if err != nil {
		h.logger.Warn("change path failed", slog.String("custom_root", req.CustomRoot), slog.String("error", err.Error()))
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Report returns the diagnostics report. With ?format=text the report is
// written as plain text.
func (h *Handlers) Report(c *gin.Context) {
	report := h.svc.CopyDiagnostics()
	if c.Query("format") == "text" {
		c.String(http.StatusOK, report)
		return
	}
	c.JSON(http.StatusOK, ReportResponse{OK: true, Report: report})
}

// Stream upgrades to a websocket and pushes every snapshot, starting with
// the current one. A slow client loses intermediate snapshots, never the
// latest one.
func (h *Handlers) Stream(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	updates := make(chan lifecycle.Snapshot, streamBuffer)
	unsubscribe := h.svc.OnSnapshot(func(s lifecycle.Snapshot) {
		select {
		case updates <- s:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("snapshot stream opened", slog.String("remote", c.Request.RemoteAddr))
	if err := h.send(ws, h.svc.GetSnapshot()); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			h.logger.Debug("snapshot stream closed", slog.String("remote", c.Request.RemoteAddr))
			return
		case <-c.Request.Context().Done():
			return
		case s := <-updates:
			if err := h.send(ws, s); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) send(ws *websocket.Conn, s lifecycle.Snapshot) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(s); err != nil {
		h.logger.Warn("failed to write snapshot to websocket", slog.String("error", err.Error()))
		return err
	}
	return nil
}

type checkResult struct {
	snap lifecycle.Snapshot
	err  error
}

// coalesce runs op once for all concurrent callers with the same key. The
// shared run is detached from any single request's cancellation.
func (h *Handlers) coalesce(c *gin.Context, key string, op func(context.Context) (lifecycle.Snapshot, error)) {
	ctx := context.WithoutCancel(c.Request.Context())
	v, _, shared := h.flight.Do(key, func() (any, error) {
		snap, err := op(ctx)
		return checkResult{snap: snap, err: err}, nil
	})
	res := v.(checkResult)
	if shared {
		h.logger.Debug("lifecycle call coalesced", slog.String("op", key))
	}
	if res.err != nil {
		h.logger.Error("lifecycle call failed", slog.String("op", key), slog.String("error", res.err.Error()))
		var snap *lifecycle.Snapshot
		if res.snap.State != "" {
			snap = &res.snap
		}
		h.writeError(c, res.err, snap)
		return
	}
	c.JSON(http.StatusOK, res.snap)
}

func (h *Handlers) writeError(c *gin.Context, err error, snap *lifecycle.Snapshot) {
	c.JSON(statusFor(err), ErrorResponse{Error: err.Error(), Snapshot: snap})
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storagepath.ErrEmptyCustomRoot),
		errors.Is(err, storagepath.ErrRelativeCustomRoot):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNoOverrideSaver):
		return http.StatusNotImplemented
	case errors.Is(err, lifecycle.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
