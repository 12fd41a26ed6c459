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

import "github.com/AleutianAI/ModelKeeper/services/readiness/manifest"

// BuildModeAvailability derives both modes from artifact health.
//
// # Description
//
// Assistant needs every capability and lists the missing ones in the order
// llm, tts, stt. Dictation needs speech recognition; without the language and
// synthesis models it still runs but emits raw transcripts.
//
// A capability is healthy only when every artifact providing it is available.
func BuildModeAvailability(health []ArtifactHealth) ModeAvailabilityMap {
	ready := map[manifest.Capability]bool{}
	for _, h := range health {
		prev, seen := ready[h.Capability]
		ready[h.Capability] = h.IsAvailable && (!seen || prev)
	}
	stt := ready[manifest.CapabilitySTT]
	llm := ready[manifest.CapabilityLLM]
	tts := ready[manifest.CapabilityTTS]

	blockedBy := []manifest.Capability{}
	if !llm {
		blockedBy = append(blockedBy, manifest.CapabilityLLM)
	}
	if !tts {
		blockedBy = append(blockedBy, manifest.CapabilityTTS)
	}
	if !stt {
		blockedBy = append(blockedBy, manifest.CapabilitySTT)
	}

	assistant := ModeAvailability{
		Mode:      ModeAssistant,
		Status:    ModeAvailable,
		Summary:   "Assistant is fully available.",
		BlockedBy: []manifest.Capability{},
	}
	if len(blockedBy) > 0 {
		assistant.Status = ModeBlocked
		assistant.Summary = "Assistant is blocked until STT, LLM, and TTS are all available."
		assistant.BlockedBy = blockedBy
	}

	var dictation ModeAvailability
	switch {
	case stt && llm && tts:
		dictation = ModeAvailability{
			Mode:      ModeDictation,
			Status:    ModeAvailable,
			Summary:   "Dictation is available with AI enrichment.",
			BlockedBy: []manifest.Capability{},
		}
	case stt:
		dictation = ModeAvailability{
			Mode:      ModeDictation,
			Status:    ModeDegraded,
			Summary:   "Dictation is available with raw output because Assistant models are unavailable.",
			BlockedBy: []manifest.Capability{},
		}
	default:
		dictation = ModeAvailability{
			Mode:      ModeDictation,
			Status:    ModeBlocked,
			Summary:   "Dictation is blocked until STT is healthy.",
			BlockedBy: []manifest.Capability{manifest.CapabilitySTT},
		}
	}

	return ModeAvailabilityMap{Assistant: assistant, Dictation: dictation}
}

// BlockedModeAvailability blocks both modes with the same reason. Used before
// a check has produced artifact health.
func BlockedModeAvailability(reason string) ModeAvailabilityMap {
	return ModeAvailabilityMap{
		Assistant: ModeAvailability{
			Mode:      ModeAssistant,
			Status:    ModeBlocked,
			Summary:   reason,
			BlockedBy: []manifest.Capability{manifest.CapabilitySTT, manifest.CapabilityLLM, manifest.CapabilityTTS},
		},
		Dictation: ModeAvailability{
			Mode:      ModeDictation,
			Status:    ModeBlocked,
			Summary:   reason,
			BlockedBy: []manifest.Capability{manifest.CapabilitySTT},
		},
	}
}

// RecoveryActions is the full set offered on every non-healthy outcome.
func RecoveryActions() []RecoveryAction {
	return []RecoveryAction{
		{ID: ActionRetry, Enabled: true, Label: "Retry"},
		{ID: ActionChangePath, Enabled: true, Label: "Change path directory"},
		{ID: ActionCopyDiagnostics, Enabled: true, Label: "Show/Copy diagnostics report"},
	}
}

// blocksPrimary reports whether the missing set stops dictation outright,
// which is what turns an incomplete install into a setup screen rather than a
// degraded start.
func blocksPrimary(health []ArtifactHealth) bool {
	for _, h := range health {
		if h.Capability == manifest.CapabilitySTT && !h.IsAvailable {
			return true
		}
	}
	return false
}

// allAvailable reports whether no inspected artifact is missing.
func allAvailable(health []ArtifactHealth) bool {
	for _, h := range health {
		if !h.IsAvailable {
			return false
		}
	}
	return true
}
