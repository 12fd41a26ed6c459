// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/ModelKeeper/services/readiness/lifecycle"
	"github.com/AleutianAI/ModelKeeper/services/readiness/manifest"
)

func recoverySnapshot() lifecycle.Snapshot {
	reason := lifecycle.ReasonDownloadFailure
	return lifecycle.Snapshot{
		State:       lifecycle.StateRecoveryRequired,
		CheckID:     "check-1",
		SetupReason: &reason,
		ModeAvailability: lifecycle.BuildModeAvailability([]lifecycle.ArtifactHealth{
			{Capability: manifest.CapabilitySTT, IsAvailable: true},
		}),
		DownloadConfirmation: lifecycle.DownloadConfirmation{Required: true},
		DownloadProgress: []lifecycle.ProgressLine{
			{ArtifactID: "stt", Label: "Speech recognition model", Percent: 100, BytesDownloaded: 100, BytesTotal: 100, Status: lifecycle.ProgressComplete},
			{ArtifactID: "llm", Label: "Assistant language model", Percent: 40, BytesDownloaded: 400_000_000, BytesTotal: 1_000_000_000, Status: lifecycle.ProgressFailed},
		},
		Artifacts: []lifecycle.ArtifactHealth{
			{ArtifactID: "stt", IsAvailable: true},
			{ArtifactID: "llm", IsAvailable: false, Issue: lifecycle.IssueMissingFile},
		},
		RecoveryActions: lifecycle.RecoveryActions(),
		Diagnostics: lifecycle.Diagnostics{
			Summary: "Network request failed for llm",
			Lines:   []string{"Artifact: llm", "Code: network-error", "Attempts: 5"},
		},
	}
}

func TestRenderSnapshot_Standard(t *testing.T) {
	out := RenderSnapshot(recoverySnapshot(), PersonalityStandard)

	for _, want := range []string{
		"Model readiness",
		"RECOVERY REQUIRED",
		"Network request failed for llm",
		"Assistant",
		"Dictation",
		"Speech recognition model",
		"40%",
		"failed",
		"Attempts: 5",
		"modelkeeper install",
		"modelkeeper retry",
		"Show/Copy diagnostics report",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRenderSnapshot_ReadyToastAndBanner(t *testing.T) {
	snap := lifecycle.Snapshot{
		State:      lifecycle.StateReady,
		ReadyToast: lifecycle.ReadyToast{Enabled: true, ShowOnHealthyStartup: true},
		Banner:     lifecycle.Banner{IsVisible: true},
	}
	out := RenderSnapshot(snap, PersonalityStandard)
	assert.Contains(t, out, "All models are ready.")
	assert.Contains(t, out, "taking longer than usual")
	assert.NotContains(t, out, "Next steps")
}

func TestRenderSnapshot_Machine(t *testing.T) {
	out := RenderSnapshot(recoverySnapshot(), PersonalityMachine)
	lines := strings.Split(strings.TrimSpace(out), "\n")

	assert.Equal(t, "state=recovery-required", lines[0])
	assert.Contains(t, lines, "reason=download-failure")
	assert.Contains(t, lines, "check_id=check-1")
	assert.Contains(t, lines, "assistant=blocked")
	assert.Contains(t, lines, "dictation=degraded")
	assert.Contains(t, lines, "confirmation_required=true")
	assert.Contains(t, lines, "artifact=llm available=false")
	assert.Contains(t, lines, "progress=llm status=failed percent=40")
	assert.Contains(t, lines, "summary=Network request failed for llm")
}

func TestDownloadSummary(t *testing.T) {
	out := DownloadSummary(recoverySnapshot().DownloadProgress)
	assert.NotContains(t, out, "Speech recognition model")
	assert.Contains(t, out, "Assistant language model (1.0 GB)")
	assert.Contains(t, out, "Total: 1.0 GB")
}
