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
	"fmt"
	"slices"

	"github.com/AleutianAI/ModelKeeper/services/readiness/installer"
	"github.com/AleutianAI/ModelKeeper/services/readiness/manifest"
)

var stepDefs = [4]Step{
	{
		ID:     StepResolveStoragePath,
		Label:  "Resolve model storage path",
		Detail: "Load active model directory from storage configuration.",
	},
	{
		ID:     StepInspectArtifacts,
		Label:  "Inspect installed artifacts",
		Detail: "Verify required STT/LLM/TTS model files are present.",
	},
	{
		ID:     StepInstallMissing,
		Label:  "Install missing artifacts",
		Detail: "Apply one-time confirmation gate, then install missing artifacts with retry policy.",
	},
	{
		ID:     StepFinalizeAvailability,
		Label:  "Finalize mode availability",
		Detail: "Compute Assistant/Dictation availability from artifact health.",
	},
}

// steps returns the four steps with the given states, in order.
func steps(resolve, inspect, install, finalize StepState) []Step {
	out := make([]Step, len(stepDefs))
	for i, st := range []StepState{resolve, inspect, install, finalize} {
		out[i] = stepDefs[i]
		out[i].State = st
	}
	return out
}

// base returns a snapshot for c with empty collections and a hidden banner.
func (s *Service) base(c *check, state State) Snapshot {
	nowMs := s.nowMs()
	return Snapshot{
		State:       state,
		CheckID:     c.id,
		UpdatedAtMs: nowMs,
		Steps:       steps(StepPending, StepPending, StepPending, StepPending),
		Banner: Banner{
			ThresholdMs: s.cfg.BannerEscalation.Milliseconds(),
			StartedAtMs: c.startedMs,
		},
		ReadyToast:           ReadyToast{Enabled: s.cfg.ReadyToast},
		DownloadConfirmation: s.confirmation(false),
		DownloadProgress:     slices.Clone(c.progress),
		Artifacts:            []ArtifactHealth{},
		RecoveryActions:      []RecoveryAction{},
		Diagnostics: Diagnostics{
			GeneratedAtMs: nowMs,
			Lines:         []string{},
		},
	}
}

func (s *Service) confirmation(required bool) DownloadConfirmation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DownloadConfirmation{Required: required, ConfirmedAtMs: clonePtr(s.confirmedAtMs)}
}

func reason(r SetupReason) *SetupReason {
	return &r
}

func (s *Service) pathFailureSnapshot(c *check, err error) Snapshot {
	snap := s.base(c, StateSetupRequired)
	snap.SetupReason = reason(ReasonNoUsableModelSettings)
	snap.Steps = steps(StepError, StepPending, StepPending, StepPending)
	snap.ModeAvailability = BlockedModeAvailability(
		"Storage configuration is invalid. Assistant and Dictation are blocked until fixed.")
	snap.RecoveryActions = RecoveryActions()
	snap.Diagnostics.Summary = "Unable to resolve model storage paths."
	snap.Diagnostics.Lines = []string{err.Error()}
	return snap
}

func (s *Service) inspectFailureSnapshot(c *check, err error) Snapshot {
	snap := s.base(c, StateSetupRequired)
	snap.SetupReason = reason(ReasonMissingModelDirectory)
	snap.Steps = steps(StepOK, StepError, StepPending, StepPending)
	snap.ModeAvailability = BlockedModeAvailability(
		"The model directory cannot be read. Assistant and Dictation are blocked until fixed.")
	snap.RecoveryActions = RecoveryActions()
	snap.Diagnostics.Summary = "Unable to inspect the model directory."
	snap.Diagnostics.Lines = []string{err.Error(), "Model root: " + c.modelRoot}
	return snap
}

func (s *Service) readySnapshot(c *check, health []ArtifactHealth) Snapshot {
	snap := s.base(c, StateReady)
	snap.Steps = steps(StepOK, StepOK, StepOK, StepOK)
	snap.ModeAvailability = BuildModeAvailability(health)
	snap.Artifacts = slices.Clone(health)
	snap.Diagnostics.Summary = "All required model artifacts are present."
	snap.Diagnostics.Lines = []string{
		"Model root: " + c.modelRoot,
		fmt.Sprintf("Checked artifacts: %d", len(health)),
	}
	return snap
}

func (s *Service) unconfirmedSnapshot(c *check, health []ArtifactHealth) Snapshot {
	state := StateDegraded
	var why *SetupReason
	if blocksPrimary(health) {
		state = StateSetupRequired
		why = reason(ReasonMissingRequiredModel)
	}
	snap := s.base(c, state)
	snap.SetupReason = why
	snap.Steps = steps(StepOK, StepWarning, StepPending, StepWarning)
	snap.ModeAvailability = BuildModeAvailability(health)
	snap.DownloadConfirmation = s.confirmation(true)
	snap.Artifacts = slices.Clone(health)
	snap.RecoveryActions = RecoveryActions()
	snap.Diagnostics.Summary = "Some required artifacts are missing. Download confirmation is required once before installation."
	snap.Diagnostics.Lines = missingLines(health, "missing")
	return snap
}

func (s *Service) downloadingSnapshot(c *check, health []ArtifactHealth) Snapshot {
	snap := s.base(c, StateDownloading)
	snap.Steps = steps(StepOK, StepWarning, StepRunning, StepPending)
	snap.ModeAvailability = BuildModeAvailability(health)
	snap.Artifacts = slices.Clone(health)
	snap.Diagnostics.Summary = "Installing missing model artifacts."
	lines := make([]string, 0, len(c.progress))
	for _, p := range c.progress {
		lines = append(lines, fmt.Sprintf("%s: %s %d%%", p.Label, p.Status, p.Percent))
	}
	snap.Diagnostics.Lines = lines
	return snap
}

func (s *Service) installFailureSnapshot(c *check, health []ArtifactHealth, a manifest.Artifact, f *installer.Failure, attempts int) Snapshot {
	why := ReasonDownloadFailure
	if f.Code == installer.CodeIntegrity {
		why = ReasonVerificationFailure
	}
	snap := s.base(c, StateRecoveryRequired)
	snap.SetupReason = reason(why)
	snap.Steps = steps(StepOK, StepWarning, StepError, StepWarning)
	snap.ModeAvailability = BuildModeAvailability(health)
	snap.DownloadConfirmation = s.confirmation(true)
	snap.Artifacts = slices.Clone(health)
	snap.RecoveryActions = RecoveryActions()
	snap.Diagnostics.Summary = f.Message

	lines := []string{
		"Artifact: " + a.ID,
		"Source: " + a.DownloadURL,
		"Code: " + string(f.Code),
	}
	if f.HTTPStatus != 0 {
		lines = append(lines, fmt.Sprintf("HTTP status: %d", f.HTTPStatus))
	}
	lines = append(lines,
		"Hint: "+string(f.Hint),
		"Action: "+f.Action(),
		fmt.Sprintf("Attempts: %d", attempts),
	)
	snap.Diagnostics.Lines = lines
	return snap
}

func (s *Service) installedSnapshot(c *check, health []ArtifactHealth) Snapshot {
	modes := BuildModeAvailability(health)
	if allAvailable(health) {
		snap := s.base(c, StateReady)
		snap.Steps = steps(StepOK, StepWarning, StepOK, StepOK)
		snap.ModeAvailability = modes
		snap.Artifacts = slices.Clone(health)
		snap.Diagnostics.Summary = "All required artifacts are installed and verified."
		snap.Diagnostics.Lines = []string{
			fmt.Sprintf("Installed artifacts: %d", len(health)),
			"Model root: " + c.modelRoot,
		}
		return snap
	}

	snap := s.base(c, StateDegraded)
	snap.Steps = steps(StepWarning, StepWarning, StepWarning, StepWarning)
	snap.ModeAvailability = modes
	snap.Artifacts = slices.Clone(health)
	snap.RecoveryActions = RecoveryActions()
	snap.Diagnostics.Summary = "Startup completed with partial model availability."
	snap.Diagnostics.Lines = missingLines(health, "unavailable")
	return snap
}

func missingLines(health []ArtifactHealth, word string) []string {
	lines := []string{}
	for _, h := range health {
		if !h.IsAvailable {
			lines = append(lines, h.DisplayName+": "+word)
		}
	}
	return lines
}
