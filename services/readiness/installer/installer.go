// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package installer downloads, verifies and promotes one model artifact.
//
// # Description
//
// Install is safe to re-run after any interruption. Bytes land in
// "<fileName>.partial" next to the final path, and a resume entry records the
// cache validator of the response that produced them. A later call continues
// with a Range request, guarded by If-Range when a validator is known. The
// partial file is only renamed to its final name after its SHA-256 digest
// matches the manifest.
//
// # Thread Safety
//
// An Installer may be shared, but at most one Install may be active per
// artifact id. Nothing inside the installer enforces that.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ModelKeeper/services/readiness/integrity"
	"github.com/AleutianAI/ModelKeeper/services/readiness/manifest"
	"github.com/AleutianAI/ModelKeeper/services/readiness/observability"
	"github.com/AleutianAI/ModelKeeper/services/readiness/resume"
)

// PartialSuffix is appended to the final file name while downloading.
const PartialSuffix = ".partial"

// copyBufferSize is the body read size.
const copyBufferSize = 256 * 1024

// Phase is the step an install is in, as reported to ProgressFunc.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseVerifying   Phase = "verifying"
)

// Progress is one progress report.
type Progress struct {
	ArtifactID      string
	Phase           Phase
	BytesDownloaded int64
	// BytesTotal is 0 when the size is unknown.
	BytesTotal int64
}

// ProgressFunc receives progress reports on the installing goroutine.
// It must not block.
type ProgressFunc func(Progress)

// Request describes one install.
type Request struct {
	Artifact   manifest.Artifact
	InstallDir string
	Store      resume.Store

	// Progress is optional.
	Progress ProgressFunc
}

// Installer performs artifact installs.
type Installer struct {
	fetcher Fetcher
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(i *Installer) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Installer) { i.metrics = m }
}

// New creates an Installer that downloads through fetcher.
func New(fetcher Fetcher, opts ...Option) *Installer {
	i := &Installer{
		fetcher: fetcher,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer(observability.TracerName),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// attempt carries per-call state needed to describe a failure.
type attempt struct {
	req         Request
	finalPath   string
	partialPath string
	resumed     int64
	restarted   bool
	total       int64
	written     int64
}

func (a *attempt) fail(code Code, status int, msg string, err error) *Failure {
	return &Failure{
		ArtifactID:           a.req.Artifact.ID,
		Code:                 code,
		Hint:                 HintFor(code, status),
		Message:              msg,
		HTTPStatus:           status,
		ResumedFromBytes:     a.resumed,
		RestartedFromScratch: a.restarted,
		ExpectedSHA256:       a.req.Artifact.ChecksumSHA256,
		Err:                  err,
	}
}

func (a *attempt) fsFail(err error) *Failure {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return a.fail(CodeNetwork, 0, "Download cancelled", err)
	}
	return a.fail(CodeFilesystem, 0,
		fmt.Sprintf("Filesystem error while installing %s", a.req.Artifact.ID), err)
}

// Install acquires req.Artifact into req.InstallDir.
//
// # Description
//
//  1. Ensures the install directory exists.
//  2. Stats the partial file. No bytes means a plain GET that truncates the
//     partial file. Existing bytes mean a Range request from that offset,
//     with If-Range when the stored validator allows it.
//  3. 206 appends. 200 to a ranged request means the server ignored or
//     rejected the range, so the stale partial is discarded and the full body
//     is written from offset 0. Any other status fails without touching the
//     partial file. 416 with a partial already at the expected size skips to
//     verification.
//  4. Resume metadata is persisted as soon as response headers arrive.
//  5. The partial file is hashed. A mismatch deletes the partial file and
//     its resume entry. A match renames the partial file over the final path
//     and deletes the entry.
//
// # Outputs
//
//   - Outcome: Failure is nil on success. Cancellation through ctx surfaces
//     as CodeNetwork with ctx.Err() as the cause, leaving a resumable
//     partial file.
func (i *Installer) Install(ctx context.Context, req Request) Outcome {
	art := req.Artifact
	ctx, span := i.tracer.Start(ctx, "installer.Install",
		trace.WithAttributes(
			attribute.String("artifact.id", art.ID),
			attribute.String("artifact.url", art.DownloadURL),
		))
	defer span.End()

	started := time.Now()
	a := &attempt{
		req:       req,
		finalPath: filepath.Join(req.InstallDir, art.FileName),
		total:     art.ExpectedBytes,
	}
	a.partialPath = a.finalPath + PartialSuffix

	digest, failure := i.run(ctx, a)

	span.SetAttributes(
		attribute.Int64("install.resumed_from_bytes", a.resumed),
		attribute.Bool("install.restarted", a.restarted),
	)
	if failure != nil {
		span.SetStatus(codes.Error, string(failure.Code))
		span.RecordError(failure)
		i.metrics.RecordInstall(art.ID, string(failure.Code), time.Since(started))
		return Outcome{ArtifactID: art.ID, Failure: failure}
	}

	i.metrics.RecordInstall(art.ID, "", time.Since(started))
	i.logger.Info("artifact installed",
		"artifact_id", art.ID,
		"path", a.finalPath,
		"resumed_from_bytes", a.resumed,
		"restarted", a.restarted,
	)
	return Outcome{
		ArtifactID:           art.ID,
		FilePath:             a.finalPath,
		ResumedFromBytes:     a.resumed,
		RestartedFromScratch: a.restarted,
		SHA256:               digest,
	}
}

func (i *Installer) run(ctx context.Context, a *attempt) (string, *Failure) {
	art := a.req.Artifact
	store := a.req.Store

	if err := os.MkdirAll(a.req.InstallDir, 0o750); err != nil {
		return "", a.fsFail(err)
	}

	existing, err := fileSize(a.partialPath)
	if err != nil {
		return "", a.fsFail(err)
	}

	if existing == 0 {
		resp, failure := i.fetch(ctx, a, nil, false)
		if failure != nil {
			return "", failure
		}
		if failure := i.persist(ctx, a, 0, resp.Header); failure != nil {
			resp.Body.Close()
			return "", failure
		}
		if failure := i.stream(ctx, a, resp, 0); failure != nil {
			return "", failure
		}
		return i.verifyAndPromote(ctx, a)
	}

	entry, err := store.Get(ctx, art.ID)
	if err != nil {
		return "", a.fsFail(err)
	}
	header := http.Header{}
	header.Set("Range", "bytes="+strconv.FormatInt(existing, 10)+"-")
	if entry != nil {
		if v := entry.Validator(); v != "" {
			header.Set("If-Range", v)
		}
	}

	i.logger.Info("resuming artifact download",
		"artifact_id", art.ID,
		"from_bytes", existing,
		"if_range", header.Get("If-Range") != "",
	)

	resp, failure := i.fetch(ctx, a, header, true)
	if failure != nil {
		return "", failure
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		a.resumed = existing
		i.metrics.RecordResume(art.ID, false)
		if failure := i.persist(ctx, a, existing, resp.Header); failure != nil {
			resp.Body.Close()
			return "", failure
		}
		if failure := i.stream(ctx, a, resp, existing); failure != nil {
			return "", failure
		}

	case http.StatusOK:
		a.resumed = existing
		a.restarted = true
		i.metrics.RecordResume(art.ID, true)
		i.logger.Warn("server ignored range, restarting download",
			"artifact_id", art.ID,
			"discarded_bytes", existing,
		)
		if err := os.Remove(a.partialPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			resp.Body.Close()
			return "", a.fsFail(err)
		}
		if failure := i.persist(ctx, a, 0, resp.Header); failure != nil {
			resp.Body.Close()
			return "", failure
		}
		if failure := i.stream(ctx, a, resp, 0); failure != nil {
			return "", failure
		}

	case http.StatusRequestedRangeNotSatisfiable:
		// A full-size partial left by a crash before promotion would otherwise
		// get 416 on every resume, so it is verified instead of failed.
		resp.Body.Close()
		if art.ExpectedBytes <= 0 || existing < art.ExpectedBytes {
			return "", a.fail(CodeHTTP, resp.StatusCode,
				fmt.Sprintf("Unexpected HTTP status %d for %s", resp.StatusCode, art.ID), nil)
		}
		a.resumed = existing
		a.written = existing
		i.logger.Info("partial file already complete, verifying",
			"artifact_id", art.ID,
			"bytes", existing,
		)

	default:
		resp.Body.Close()
		return "", a.fail(CodeHTTP, resp.StatusCode,
			fmt.Sprintf("Unexpected HTTP status %d for %s", resp.StatusCode, art.ID), nil)
	}

	return i.verifyAndPromote(ctx, a)
}

// fetch issues the request. For unranged requests any 2xx status is usable;
// ranged responses are classified by the caller.
func (i *Installer) fetch(ctx context.Context, a *attempt, header http.Header, ranged bool) (*Response, *Failure) {
	art := a.req.Artifact
	i.logger.Debug("requesting artifact", "artifact_id", art.ID, "ranged", ranged)

	resp, err := i.fetcher.Fetch(ctx, art.DownloadURL, header)
	if err != nil {
		return nil, a.fail(CodeNetwork, 0,
			fmt.Sprintf("Network request failed for %s", art.ID), err)
	}
	if ranged {
		return resp, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, a.fail(CodeHTTP, resp.StatusCode,
			fmt.Sprintf("Unexpected HTTP status %d for %s", resp.StatusCode, art.ID), nil)
	}
	return resp, nil
}

// persist records resume metadata for the response that is about to be
// streamed.
func (i *Installer) persist(ctx context.Context, a *attempt, offset int64, h http.Header) *Failure {
	err := a.req.Store.Set(ctx, resume.Entry{
		ArtifactID:      a.req.Artifact.ID,
		PartialPath:     a.partialPath,
		BytesDownloaded: offset,
		ETag:            h.Get("ETag"),
		LastModified:    h.Get("Last-Modified"),
	})
	if err != nil {
		return a.fsFail(err)
	}
	return nil
}

// stream writes resp.Body into the partial file. offset 0 truncates, any
// other offset appends.
func (i *Installer) stream(ctx context.Context, a *attempt, resp *Response, offset int64) *Failure {
	defer resp.Body.Close()
	art := a.req.Artifact

	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(a.partialPath, flags, 0o640)
	if err != nil {
		return a.fsFail(err)
	}

	if a.total <= 0 && resp.Header != nil {
		if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n > 0 {
			a.total = offset + n
		}
	}
	a.written = offset
	i.report(a, PhaseDownloading)

	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return a.fail(CodeNetwork, 0, "Download cancelled", err)
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return a.fsFail(werr)
			}
			a.written += int64(n)
			i.metrics.AddBytes(art.ID, n)
			i.report(a, PhaseDownloading)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			if ctx.Err() != nil {
				return a.fail(CodeNetwork, 0, "Download cancelled", ctx.Err())
			}
			return a.fail(CodeNetwork, 0, "Download stream interrupted", rerr)
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return a.fsFail(err)
	}
	if err := f.Close(); err != nil {
		return a.fsFail(err)
	}
	return nil
}

func (i *Installer) verifyAndPromote(ctx context.Context, a *attempt) (string, *Failure) {
	art := a.req.Artifact
	i.report(a, PhaseVerifying)

	result, err := integrity.VerifyFile(ctx, a.partialPath, art.ChecksumSHA256)
	if err != nil {
		return "", a.fsFail(err)
	}

	if !result.OK {
		i.logger.Error("artifact checksum mismatch",
			"artifact_id", art.ID,
			"expected", art.ChecksumSHA256,
			"actual", result.Actual,
		)
		if err := resume.Clear(ctx, a.req.Store, art.ID, a.partialPath); err != nil {
			i.logger.Warn("failed to clear corrupted partial", "artifact_id", art.ID, "error", err)
			_ = os.Remove(a.partialPath)
		}
		failure := a.fail(CodeIntegrity, 0, fmt.Sprintf("Checksum mismatch for %s", art.ID), nil)
		failure.ActualSHA256 = result.Actual
		return "", failure
	}

	if err := os.Rename(a.partialPath, a.finalPath); err != nil {
		return "", a.fsFail(err)
	}
	if err := a.req.Store.Delete(ctx, art.ID); err != nil {
		i.logger.Warn("installed artifact but failed to drop resume entry",
			"artifact_id", art.ID,
			"error", err,
		)
	}
	return result.Actual, nil
}

func (i *Installer) report(a *attempt, phase Phase) {
	if a.req.Progress == nil {
		return
	}
	a.req.Progress(Progress{
		ArtifactID:      a.req.Artifact.ID,
		Phase:           phase,
		BytesDownloaded: a.written,
		BytesTotal:      a.total,
	})
}

// fileSize returns the size of path, or 0 when it does not exist.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
