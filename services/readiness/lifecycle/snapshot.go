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
	"slices"

	"github.com/AleutianAI/ModelKeeper/services/readiness/manifest"
)

// State is the lifecycle state published in every snapshot.
type State string

const (
	StateIdle             State = "idle"
	StateChecking         State = "checking"
	StateReady            State = "ready"
	StateDegraded         State = "degraded"
	StateSetupRequired    State = "setup-required"
	StateDownloading      State = "downloading"
	StateRecoveryRequired State = "recovery-required"
)

// AllStates lists every state, used to reset per-state gauges.
var AllStates = []State{
	StateIdle, StateChecking, StateReady, StateDegraded,
	StateSetupRequired, StateDownloading, StateRecoveryRequired,
}

// settled reports whether a check ends in s.
func (s State) settled() bool {
	switch s {
	case StateReady, StateDegraded, StateSetupRequired, StateRecoveryRequired:
		return true
	}
	return false
}

// StepState is the status of one check step.
type StepState string

const (
	StepPending StepState = "pending"
	StepRunning StepState = "running"
	StepOK      StepState = "ok"
	StepWarning StepState = "warning"
	StepError   StepState = "error"
)

// Step ids, in order.
const (
	StepResolveStoragePath   = "resolve-storage-path"
	StepInspectArtifacts     = "inspect-installed-artifacts"
	StepInstallMissing       = "install-missing-artifacts"
	StepFinalizeAvailability = "finalize-mode-availability"
)

// Step is one named phase of a check.
type Step struct {
	ID     string    `json:"id"`
	Label  string    `json:"label"`
	Detail string    `json:"detail"`
	State  StepState `json:"state"`
}

// Banner is the "this is taking a while" escalation record.
type Banner struct {
	ThresholdMs   int64  `json:"thresholdMs"`
	StartedAtMs   int64  `json:"startedAtMs"`
	IsVisible     bool   `json:"isVisible"`
	EscalatedAtMs *int64 `json:"escalatedAtMs"`
}

// SetupReason classifies why the user must act.
type SetupReason string

const (
	ReasonMissingModelDirectory SetupReason = "missing-model-directory"
	ReasonPathMismatch          SetupReason = "path-mismatch"
	ReasonNoUsableModelSettings SetupReason = "no-usable-model-settings"
	ReasonMissingRequiredModel  SetupReason = "missing-required-model"
	ReasonDownloadFailure       SetupReason = "download-failure"
	ReasonVerificationFailure   SetupReason = "verification-failure"
)

// Mode is a consumer-facing feature gated by capabilities.
type Mode string

const (
	ModeAssistant Mode = "assistant"
	ModeDictation Mode = "dictation"
)

// ModeStatus is the availability of one mode.
type ModeStatus string

const (
	ModeAvailable ModeStatus = "available"
	ModeDegraded  ModeStatus = "degraded"
	ModeBlocked   ModeStatus = "blocked"
)

// ModeAvailability describes one mode.
type ModeAvailability struct {
	Mode      Mode                  `json:"mode"`
	Status    ModeStatus            `json:"status"`
	Summary   string                `json:"summary"`
	BlockedBy []manifest.Capability `json:"blockedBy"`
}

// ModeAvailabilityMap holds both modes.
type ModeAvailabilityMap struct {
	Assistant ModeAvailability `json:"assistant"`
	Dictation ModeAvailability `json:"dictation"`
}

// ReadyToast tells the UI whether to announce a healthy startup.
type ReadyToast struct {
	Enabled              bool `json:"enabled"`
	ShowOnHealthyStartup bool `json:"showOnHealthyStartup"`
}

// DownloadConfirmation is the one-time consent gate.
type DownloadConfirmation struct {
	Required      bool   `json:"required"`
	ConfirmedAtMs *int64 `json:"confirmedAtMs"`
}

// ProgressStatus is the status of one progress line.
type ProgressStatus string

const (
	ProgressPending     ProgressStatus = "pending"
	ProgressDownloading ProgressStatus = "downloading"
	ProgressVerifying   ProgressStatus = "verifying"
	ProgressComplete    ProgressStatus = "complete"
	ProgressFailed      ProgressStatus = "failed"
)

// ProgressLine is the download progress of one artifact.
type ProgressLine struct {
	ArtifactID      string         `json:"artifactId"`
	Label           string         `json:"label"`
	Percent         int            `json:"percent"`
	BytesDownloaded int64          `json:"bytesDownloaded"`
	BytesTotal      int64          `json:"bytesTotal"`
	Status          ProgressStatus `json:"status"`
}

// IssueMissingFile marks an artifact whose file is absent.
const IssueMissingFile = "missing-file"

// ArtifactHealth is the inspected state of one artifact.
type ArtifactHealth struct {
	Capability  manifest.Capability `json:"capability"`
	ArtifactID  string              `json:"artifactId"`
	DisplayName string              `json:"displayName"`
	IsAvailable bool                `json:"isAvailable"`
	Issue       string              `json:"issue,omitempty"`
}

// RecoveryActionID names an offered recovery action.
type RecoveryActionID string

const (
	ActionRetry           RecoveryActionID = "retry"
	ActionChangePath      RecoveryActionID = "change-path"
	ActionCopyDiagnostics RecoveryActionID = "copy-diagnostics"
)

// RecoveryAction is one button the UI may render.
type RecoveryAction struct {
	ID      RecoveryActionID `json:"id"`
	Enabled bool             `json:"enabled"`
	Label   string           `json:"label"`
}

// Diagnostics is the support bundle.
type Diagnostics struct {
	Summary       string   `json:"summary"`
	GeneratedAtMs int64    `json:"generatedAtMs"`
	Lines         []string `json:"lines"`
}

// Snapshot is the complete, self-describing lifecycle state. A consumer
// never needs an earlier snapshot to render one.
type Snapshot struct {
	State                State                `json:"state"`
	CheckID              string               `json:"checkId,omitempty"`
	UpdatedAtMs          int64                `json:"updatedAtMs"`
	Steps                []Step               `json:"steps"`
	Banner               Banner               `json:"banner"`
	SetupReason          *SetupReason         `json:"setupReason"`
	ModeAvailability     ModeAvailabilityMap  `json:"modeAvailability"`
	ReadyToast           ReadyToast           `json:"readyToast"`
	DownloadConfirmation DownloadConfirmation `json:"downloadConfirmation"`
	DownloadProgress     []ProgressLine       `json:"downloadProgress"`
	Artifacts            []ArtifactHealth     `json:"artifacts"`
	RecoveryActions      []RecoveryAction     `json:"recoveryActions"`
	Diagnostics          Diagnostics          `json:"diagnostics"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Steps = slices.Clone(s.Steps)
	out.Banner.EscalatedAtMs = clonePtr(s.Banner.EscalatedAtMs)
	out.SetupReason = clonePtr(s.SetupReason)
	out.ModeAvailability.Assistant.BlockedBy = slices.Clone(s.ModeAvailability.Assistant.BlockedBy)
	out.ModeAvailability.Dictation.BlockedBy = slices.Clone(s.ModeAvailability.Dictation.BlockedBy)
	out.DownloadConfirmation.ConfirmedAtMs = clonePtr(s.DownloadConfirmation.ConfirmedAtMs)
	out.DownloadProgress = slices.Clone(s.DownloadProgress)
	out.Artifacts = slices.Clone(s.Artifacts)
	out.RecoveryActions = slices.Clone(s.RecoveryActions)
	out.Diagnostics.Lines = slices.Clone(s.Diagnostics.Lines)
	return out
}

// Step returns the step with the given id.
func (s Snapshot) Step(id string) (Step, bool) {
	for _, st := range s.Steps {
		if st.ID == id {
			return st, true
		}
	}
	return Step{}, false
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
