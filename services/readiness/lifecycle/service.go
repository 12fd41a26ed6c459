// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/ModelKeeper/services/readiness/installer"
	"github.com/AleutianAI/ModelKeeper/services/readiness/manifest"
	"github.com/AleutianAI/ModelKeeper/services/readiness/observability"
	"github.com/AleutianAI/ModelKeeper/services/readiness/resume"
	"github.com/AleutianAI/ModelKeeper/services/readiness/storagepath"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrClosed is returned by operations invoked after Close.
	ErrClosed = errors.New("lifecycle service is closed")

	// ErrNoOverrideSaver is returned by ChangePath when the service was built
	// without an OverrideSaver.
	ErrNoOverrideSaver = errors.New("storage override persistence is not configured")

	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("lifecycle: missing required dependency")
)

// InspectError reports a model file that could not be inspected for a reason
// other than its absence.
type InspectError struct {
	Path string
	Err  error
}

func (e *InspectError) Error() string {
	return fmt.Sprintf("inspect %s: %v", e.Path, e.Err)
}

func (e *InspectError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Collaborators
// =============================================================================

// PathLoader resolves the active storage layout. *storagepath.Resolver
// satisfies it.
type PathLoader interface {
	Load(ctx context.Context) (storagepath.State, error)
}

// OverrideSaver persists a new custom root. *storagepath.Resolver satisfies it.
type OverrideSaver interface {
	SetCustomRoot(ctx context.Context, root string) (storagepath.Override, error)
}

// ArtifactInstaller installs one artifact. *installer.Installer satisfies it.
type ArtifactInstaller interface {
	Install(ctx context.Context, req installer.Request) installer.Outcome
}

// Timer is a cancellable scheduled callback. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Listener receives snapshots. It is called synchronously while the service
// serializes delivery, so it must not call back into the service.
type Listener func(Snapshot)

// Config holds the tunables of a Service.
type Config struct {
	// Artifacts is the required bundle in install order.
	Artifacts []manifest.Artifact

	// BannerEscalation is how long a check may stay in "checking" before the
	// banner becomes visible.
	BannerEscalation time.Duration

	Retry RetryPolicy

	// ReadyToast enables the healthy startup announcement.
	ReadyToast bool

	// ProgressInterval is the minimum spacing between byte-count-only
	// progress snapshots. Status changes are always published.
	ProgressInterval time.Duration
}

// DefaultConfig returns the built-in bundle with the default timings.
func DefaultConfig() Config {
	return Config{
		Artifacts:        manifest.RequiredArtifacts(),
		BannerEscalation: 3 * time.Second,
		Retry:            DefaultRetryPolicy(),
		ReadyToast:       true,
		ProgressInterval: 250 * time.Millisecond,
	}
}

// Deps holds the collaborators of a Service. Paths, Installer and Store are
// required; the rest have defaults.
type Deps struct {
	Paths     PathLoader
	Installer ArtifactInstaller
	Store     resume.Store

	// Overrides enables ChangePath.
	Overrides OverrideSaver

	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Now defaults to time.Now.
	Now func() time.Time

	// Stat defaults to os.Stat.
	Stat func(string) (fs.FileInfo, error)

	// AfterFunc defaults to time.AfterFunc.
	AfterFunc func(time.Duration, func()) Timer
}

// =============================================================================
// Service
// =============================================================================

// Service drives the model readiness lifecycle.
//
// # Description
//
// A check resolves the model directory, inspects each required artifact,
// gates downloads behind a one-time confirmation, installs missing artifacts
// with a bounded retry budget and derives mode availability. Each transition
// publishes a complete Snapshot to every listener.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Checks are serialized: a second
// StartCheck waits for the first to finish. Snapshot delivery is serialized
// and listeners observe snapshots in publication order.
type Service struct {
	cfg       Config
	paths     PathLoader
	install   ArtifactInstaller
	store     resume.Store
	overrides OverrideSaver
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	now       func() time.Time
	stat      func(string) (fs.FileInfo, error)
	afterFunc func(time.Duration, func()) Timer

	// checkMu serializes checks.
	checkMu sync.Mutex

	// emitMu serializes publication and delivery.
	emitMu sync.Mutex

	mu            sync.RWMutex
	snapshot      Snapshot
	listeners     []listenerEntry
	nextListener  uint64
	confirmedAtMs *int64
	bannerTimer   Timer
	checkSeq      uint64
	lastSettled   State
	closed        bool
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// New creates a Service in the idle state.
//
// # Inputs
//
//   - cfg: Tunables. Zero durations and retry fields take the defaults.
//     An empty Artifacts list takes the built-in bundle.
//   - deps: Collaborators.
//
// # Outputs
//
//   - *Service: Ready for StartCheck.
//   - error: ErrMissingDependency when Paths, Installer or Store is nil.
func New(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Paths == nil:
		return nil, fmt.Errorf("%w: Paths", ErrMissingDependency)
	case deps.Installer == nil:
		return nil, fmt.Errorf("%w: Installer", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: Store", ErrMissingDependency)
	}

	def := DefaultConfig()
	if len(cfg.Artifacts) == 0 {
		cfg.Artifacts = def.Artifacts
	}
	if cfg.BannerEscalation <= 0 {
		cfg.BannerEscalation = def.BannerEscalation
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	cfg.Retry = cfg.Retry.normalized()

	s := &Service{
		cfg:         cfg,
		paths:       deps.Paths,
		install:     deps.Installer,
		store:       deps.Store,
		overrides:   deps.Overrides,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		tracer:      otel.Tracer(observability.TracerName),
		now:         deps.Now,
		stat:        deps.Stat,
		afterFunc:   deps.AfterFunc,
		lastSettled: StateIdle,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.stat == nil {
		s.stat = os.Stat
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	nowMs := s.nowMs()
	s.snapshot = Snapshot{
		State:            StateIdle,
		UpdatedAtMs:      nowMs,
		Steps:            steps(StepPending, StepPending, StepPending, StepPending),
		Banner:           Banner{ThresholdMs: cfg.BannerEscalation.Milliseconds(), StartedAtMs: nowMs},
		ModeAvailability: BlockedModeAvailability("Waiting for first startup check."),
		ReadyToast:       ReadyToast{Enabled: cfg.ReadyToast},
		DownloadProgress: initialProgress(cfg.Artifacts, nil),
		Artifacts:        []ArtifactHealth{},
		RecoveryActions:  []RecoveryAction{},
		Diagnostics: Diagnostics{
			Summary:       "Model readiness has not started yet.",
			GeneratedAtMs: nowMs,
			Lines:         []string{},
		},
	}
	return s, nil
}

// GetSnapshot returns a copy of the latest snapshot.
func (s *Service) GetSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

// OnSnapshot registers fn for every subsequent snapshot and returns a function
// that unregisters it. Calling the returned function more than once is safe.
func (s *Service) OnSnapshot(fn Listener) func() {
	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// ConfirmDownload records the one-time download consent and runs a check.
func (s *Service) ConfirmDownload(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	at := s.nowMs()
	s.confirmedAtMs = &at
	s.mu.Unlock()

	s.logger.Info("download confirmed")
	return s.StartCheck(ctx)
}

// Retry runs a fresh check. Confirmation state is preserved.
func (s *Service) Retry(ctx context.Context) (Snapshot, error) {
	return s.StartCheck(ctx)
}

// ChangePath persists a new custom storage root, resets download
// confirmation and runs a check against the new location.
//
// # Inputs
//
//   - customRoot: Absolute directory. A trailing "models" element is
//     stripped so that choosing the model folder itself works.
//
// # Outputs
//
//   - Snapshot: The settled snapshot of the new check.
//   - error: ErrNoOverrideSaver, a normalization error, or the save error.
//     No check runs when an error is returned.
func (s *Service) ChangePath(ctx context.Context, customRoot string) (Snapshot, error) {
	if s.overrides == nil {
		return Snapshot{}, ErrNoOverrideSaver
	}
	if s.isClosed() {
		return Snapshot{}, ErrClosed
	}
	root, err := storagepath.NormalizeCustomRoot(customRoot)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := s.overrides.SetCustomRoot(ctx, root); err != nil {
		return Snapshot{}, fmt.Errorf("save storage override: %w", err)
	}

	s.mu.Lock()
	s.confirmedAtMs = nil
	s.mu.Unlock()

	s.logger.Info("model storage path changed", slog.String("custom_root", root))
	return s.StartCheck(ctx)
}

// CopyDiagnostics returns the current diagnostics lines joined by newlines.
func (s *Service) CopyDiagnostics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strings.Join(s.snapshot.Diagnostics.Lines, "\n")
}

// Close cancels the banner timer and rejects further checks. Listeners are
// dropped. Close is idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopBannerLocked()
	s.listeners = nil
	return nil
}

// =============================================================================
// Check
// =============================================================================

// check is the state of one StartCheck run. It is owned by the checking
// goroutine.
type check struct {
	id        string
	seq       uint64
	startedMs int64
	modelRoot string
	progress  []ProgressLine
	limiter   *rate.Limiter
}

// StartCheck runs a full readiness check and returns its settled snapshot.
//
// # Description
//
// Publishes "checking" first, then exactly one settled state. When downloads
// run, "downloading" snapshots are published in between as progress changes.
//
// # Outputs
//
//   - Snapshot: The settled snapshot.
//   - error: ErrClosed, or *InspectError when a model file could not be
//     inspected. In the latter case a setup-required snapshot has still been
//     published. Resolution and install failures are reported through the
//     snapshot, not the error.
func (s *Service) StartCheck(ctx context.Context) (Snapshot, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	if s.isClosed() {
		return Snapshot{}, ErrClosed
	}

	ctx, span := s.tracer.Start(ctx, "lifecycle.StartCheck")
	defer span.End()

	started := s.now()
	defer func() { s.metrics.ObserveCheck(s.now().Sub(started)) }()

	c := s.beginCheck()
	span.SetAttributes(attribute.String("check.id", c.id))
	s.logger.Info("model readiness check started", slog.String("check_id", c.id))

	state, err := s.paths.Load(ctx)
	if err != nil {
		s.logger.Error("model storage path resolution failed",
			slog.String("check_id", c.id), slog.String("error", err.Error()))
		return s.publish(s.pathFailureSnapshot(c, err)), nil
	}
	c.modelRoot = state.Active.Models()

	health, err := s.inspect(c.modelRoot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.publish(s.inspectFailureSnapshot(c, err)), err
	}
	c.progress = initialProgress(s.cfg.Artifacts, health)

	missing := s.missingArtifacts(health)
	if len(missing) == 0 {
		return s.publish(s.readySnapshot(c, health)), nil
	}
	if !s.isConfirmed() {
		s.logger.Info("download confirmation required",
			slog.String("check_id", c.id), slog.Int("missing", len(missing)))
		return s.publish(s.unconfirmedSnapshot(c, health)), nil
	}

	s.publish(s.downloadingSnapshot(c, health))
	for _, a := range missing {
		attempts, failure := s.installWithRetry(ctx, c, a, health)
		if failure == nil {
			continue
		}
		span.SetStatus(codes.Error, failure.Message)
		after, err := s.inspect(c.modelRoot)
		if err != nil {
			span.RecordError(err)
			return s.publish(s.inspectFailureSnapshot(c, err)), err
		}
		return s.publish(s.installFailureSnapshot(c, after, a, failure, attempts)), nil
	}

	after, err := s.inspect(c.modelRoot)
	if err != nil {
		span.RecordError(err)
		return s.publish(s.inspectFailureSnapshot(c, err)), err
	}
	return s.publish(s.installedSnapshot(c, after)), nil
}

// beginCheck publishes the checking snapshot and arms the banner timer.
func (s *Service) beginCheck() *check {
	s.mu.Lock()
	s.checkSeq++
	seq := s.checkSeq
	s.mu.Unlock()

	c := &check{
		id:        uuid.NewString(),
		seq:       seq,
		startedMs: s.nowMs(),
		progress:  initialProgress(s.cfg.Artifacts, nil),
		limiter:   rate.NewLimiter(rate.Every(s.cfg.ProgressInterval), 1),
	}

	snap := s.base(c, StateChecking)
	snap.Steps = steps(StepRunning, StepPending, StepPending, StepPending)
	snap.ModeAvailability = BlockedModeAvailability("Startup checks are in progress.")
	snap.Diagnostics.Summary = "Checking model readiness."
	s.publish(snap)

	timer := s.afterFunc(s.cfg.BannerEscalation, func() { s.escalateBanner(seq) })
	s.mu.Lock()
	if s.checkSeq == seq && s.snapshot.State == StateChecking && !s.closed {
		s.bannerTimer = timer
	} else {
		timer.Stop()
	}
	s.mu.Unlock()
	return c
}

// escalateBanner republishes the checking snapshot with a visible banner if
// check seq is still checking.
func (s *Service) escalateBanner(seq uint64) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed || s.checkSeq != seq || s.snapshot.State != StateChecking || s.snapshot.Banner.IsVisible {
		s.mu.Unlock()
		return
	}
	nowMs := s.nowMs()
	next := s.snapshot.Clone()
	next.Banner.IsVisible = true
	next.Banner.EscalatedAtMs = &nowMs
	next.UpdatedAtMs = nowMs
	s.bannerTimer = nil
	s.snapshot = next
	listeners := append([]listenerEntry(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Info("model readiness banner escalated", slog.String("check_id", next.CheckID))
	s.deliver(listeners, next)
}

// publish stores next and delivers it. Any state other than checking cancels
// the banner timer.
func (s *Service) publish(next Snapshot) Snapshot {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if next.State != StateChecking {
		s.stopBannerLocked()
	}
	if next.State == StateReady {
		next.ReadyToast.ShowOnHealthyStartup = s.cfg.ReadyToast && s.lastSettled != StateReady
	}
	transition := s.snapshot.State != next.State
	if next.State.settled() {
		s.lastSettled = next.State
	}
	s.snapshot = next
	listeners := append([]listenerEntry(nil), s.listeners...)
	s.mu.Unlock()

	if transition {
		states := make([]string, len(AllStates))
		for i, st := range AllStates {
			states[i] = string(st)
		}
		s.metrics.RecordTransition(string(next.State), states)

		attrs := []any{slog.String("state", string(next.State)), slog.String("check_id", next.CheckID)}
		if next.SetupReason != nil {
			attrs = append(attrs, slog.String("reason", string(*next.SetupReason)))
		}
		s.logger.Info("model lifecycle transition", attrs...)
	}

	s.deliver(listeners, next)
	return next.Clone()
}

func (s *Service) deliver(listeners []listenerEntry, snap Snapshot) {
	for _, l := range listeners {
		l.fn(snap.Clone())
	}
}

func (s *Service) stopBannerLocked() {
	if s.bannerTimer != nil {
		s.bannerTimer.Stop()
		s.bannerTimer = nil
	}
}

// inspect stats each artifact under modelRoot.
func (s *Service) inspect(modelRoot string) ([]ArtifactHealth, error) {
	health := make([]ArtifactHealth, 0, len(s.cfg.Artifacts))
	for _, a := range s.cfg.Artifacts {
		h := ArtifactHealth{
			Capability:  a.Capability,
			ArtifactID:  a.ID,
			DisplayName: a.DisplayName,
			IsAvailable: true,
		}
		path := filepath.Join(modelRoot, a.FileName)
		if _, err := s.stat(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, &InspectError{Path: path, Err: err}
			}
			h.IsAvailable = false
			h.Issue = IssueMissingFile
		}
		health = append(health, h)
	}
	return health, nil
}

// missingArtifacts returns unavailable artifacts in bundle order.
func (s *Service) missingArtifacts(health []ArtifactHealth) []manifest.Artifact {
	var out []manifest.Artifact
	for i, h := range health {
		if !h.IsAvailable {
			out = append(out, s.cfg.Artifacts[i])
		}
	}
	return out
}

// installWithRetry installs a within the retry budget and returns the number
// of attempts made and the final failure, if any.
func (s *Service) installWithRetry(ctx context.Context, c *check, a manifest.Artifact, health []ArtifactHealth) (int, *installer.Failure) {
	budget := s.cfg.Retry.MaxAttempts
	for attempt := 1; ; attempt++ {
		if c.update(a.ID, ProgressDownloading, -1) {
			s.publish(s.downloadingSnapshot(c, health))
		}

		out := s.install.Install(ctx, installer.Request{
			Artifact:   a,
			InstallDir: c.modelRoot,
			Store:      s.store,
			Progress:   s.progressFunc(c, health),
		})
		if out.OK() {
			c.complete(a.ID)
			s.logger.Info("artifact installed",
				slog.String("check_id", c.id),
				slog.String("artifact", a.ID),
				slog.Int("attempts", attempt),
				slog.Int64("resumed_from_bytes", out.ResumedFromBytes))
			s.publish(s.downloadingSnapshot(c, health))
			return attempt, nil
		}

		f := out.Failure
		budget = s.cfg.Retry.budgetAfter(budget, f)
		if attempt >= budget || ctx.Err() != nil {
			c.update(a.ID, ProgressFailed, -1)
			s.logger.Error("artifact install failed",
				slog.String("check_id", c.id),
				slog.String("artifact", a.ID),
				slog.String("code", string(f.Code)),
				slog.String("hint", string(f.Hint)),
				slog.Int("attempts", attempt),
				slog.String("error", f.Error()))
			return attempt, f
		}
		s.logger.Warn("artifact install attempt failed, retrying",
			slog.String("check_id", c.id),
			slog.String("artifact", a.ID),
			slog.String("code", string(f.Code)),
			slog.Int("attempt", attempt),
			slog.Int("budget", budget))
	}
}

// progressFunc publishes status changes immediately and byte counts at most
// once per ProgressInterval.
func (s *Service) progressFunc(c *check, health []ArtifactHealth) installer.ProgressFunc {
	return func(p installer.Progress) {
		status := ProgressDownloading
		if p.Phase == installer.PhaseVerifying {
			status = ProgressVerifying
		}
		changed := c.update(p.ArtifactID, status, p.BytesDownloaded)
		if !changed && !c.limiter.Allow() {
			return
		}
		s.publish(s.downloadingSnapshot(c, health))
	}
}

// update sets the status and byte count of one line and reports whether the
// status changed. bytes < 0 leaves the count untouched.
func (c *check) update(artifactID string, status ProgressStatus, bytes int64) bool {
	for i := range c.progress {
		line := &c.progress[i]
		if line.ArtifactID != artifactID {
			continue
		}
		changed := line.Status != status
		line.Status = status
		if bytes >= 0 {
			line.BytesDownloaded = bytes
			line.Percent = percent(bytes, line.BytesTotal)
		}
		return changed
	}
	return false
}

func (c *check) complete(artifactID string) {
	for i := range c.progress {
		if c.progress[i].ArtifactID == artifactID {
			c.progress[i].Status = ProgressComplete
			c.progress[i].BytesDownloaded = c.progress[i].BytesTotal
			c.progress[i].Percent = 100
		}
	}
}

func percent(done, total int64) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int(done * 100 / total)
}

// initialProgress builds one line per artifact. Available artifacts are
// complete; everything else is pending.
func initialProgress(artifacts []manifest.Artifact, health []ArtifactHealth) []ProgressLine {
	lines := make([]ProgressLine, 0, len(artifacts))
	for i, a := range artifacts {
		line := ProgressLine{
			ArtifactID: a.ID,
			Label:      a.Label(),
			BytesTotal: a.ExpectedBytes,
			Status:     ProgressPending,
		}
		if i < len(health) && health[i].IsAvailable {
			line.Status = ProgressComplete
			line.BytesDownloaded = a.ExpectedBytes
			line.Percent = 100
		}
		lines = append(lines, line)
	}
	return lines
}

func (s *Service) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Service) isConfirmed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confirmedAtMs != nil
}

func (s *Service) nowMs() int64 {
	return s.now().UnixMilli()
}
