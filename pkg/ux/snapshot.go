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
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/ModelKeeper/services/readiness/lifecycle"
)

const progressWidth = 28

// actionCommands maps recovery actions to the CLI invocation that performs
// them.
var actionCommands = map[lifecycle.RecoveryActionID]string{
	lifecycle.ActionRetry:           "modelkeeper retry",
	lifecycle.ActionChangePath:      "modelkeeper change-path <dir>",
	lifecycle.ActionCopyDiagnostics: "modelkeeper diagnostics",
}

// RenderSnapshot formats a lifecycle snapshot for the terminal.
//
// # Description
//
// Standard and minimal output show steps, mode availability, download
// progress bars, diagnostics and recovery actions. Machine output is one
// key=value line per fact, stable for scripts.
func RenderSnapshot(snap lifecycle.Snapshot, level PersonalityLevel) string {
	if level == PersonalityMachine {
		return renderMachine(snap)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", Styles.Title.Render("Model readiness"), stateBadge(snap.State))
	if snap.Diagnostics.Summary != "" {
		b.WriteString(snap.Diagnostics.Summary + "\n")
	}
	if snap.Banner.IsVisible {
		fmt.Fprintf(&b, "%s %s\n", IconWarning.Render(), Styles.Warning.Render("Startup checks are taking longer than usual."))
	}
	if snap.ReadyToast.ShowOnHealthyStartup {
		fmt.Fprintf(&b, "%s %s\n", IconSuccess.Render(), Styles.Success.Render("All models are ready."))
	}

	b.WriteString("\n")
	for _, st := range snap.Steps {
		fmt.Fprintf(&b, "  %s %s\n", stepIcon(st.State).Render(), st.Label)
	}

	b.WriteString("\n")
	for _, m := range []lifecycle.ModeAvailability{snap.ModeAvailability.Assistant, snap.ModeAvailability.Dictation} {
		name := lipgloss.NewStyle().Width(10).Render(modeName(m.Mode))
		fmt.Fprintf(&b, "  %s %s %s\n", name, modeStatus(m.Status), Styles.Muted.Render(m.Summary))
	}

	if showProgress(snap) {
		b.WriteString("\n")
		bar := progress.New(
			progress.WithSolidFill(string(ColorTealPrimary)),
			progress.WithWidth(progressWidth),
			progress.WithoutPercentage(),
		)
		for _, p := range snap.DownloadProgress {
			label := lipgloss.NewStyle().Width(28).Render(p.Label)
			fmt.Fprintf(&b, "  %s %s %3d%%  %s\n", label, bar.ViewAs(float64(p.Percent)/100), p.Percent, progressDetail(p))
		}
	}

	if len(snap.Diagnostics.Lines) > 0 && needsAttention(snap.State) {
		b.WriteString("\n")
		box := Styles.WarningBox
		if snap.State == lifecycle.StateRecoveryRequired {
			box = Styles.ErrorBox
		}
		b.WriteString(box.Width(72).Render(strings.Join(snap.Diagnostics.Lines, "\n")))
		b.WriteString("\n")
	}

	if snap.DownloadConfirmation.Required {
		fmt.Fprintf(&b, "\n%s Run %s to approve the one-time model download.\n",
			IconArrow.Render(), Styles.Highlight.Render("modelkeeper install"))
	}
	if len(snap.RecoveryActions) > 0 {
		b.WriteString("\n" + Styles.Bold.Render("Next steps") + "\n")
		for _, a := range snap.RecoveryActions {
			if !a.Enabled {
				continue
			}
			fmt.Fprintf(&b, "  %s %s  %s\n", IconBullet.Render(), a.Label, Styles.Muted.Render(actionCommands[a.ID]))
		}
	}
	return b.String()
}

func renderMachine(snap lifecycle.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s\n", snap.State)
	if snap.SetupReason != nil {
		fmt.Fprintf(&b, "reason=%s\n", *snap.SetupReason)
	}
	if snap.CheckID != "" {
		fmt.Fprintf(&b, "check_id=%s\n", snap.CheckID)
	}
	fmt.Fprintf(&b, "assistant=%s\n", snap.ModeAvailability.Assistant.Status)
	fmt.Fprintf(&b, "dictation=%s\n", snap.ModeAvailability.Dictation.Status)
	fmt.Fprintf(&b, "confirmation_required=%t\n", snap.DownloadConfirmation.Required)
	for _, a := range snap.Artifacts {
		fmt.Fprintf(&b, "artifact=%s available=%t\n", a.ArtifactID, a.IsAvailable)
	}
	for _, p := range snap.DownloadProgress {
		fmt.Fprintf(&b, "progress=%s status=%s percent=%d\n", p.ArtifactID, p.Status, p.Percent)
	}
	fmt.Fprintf(&b, "summary=%s\n", snap.Diagnostics.Summary)
	return b.String()
}

func stateBadge(s lifecycle.State) string {
	text := " " + strings.ToUpper(strings.ReplaceAll(string(s), "-", " ")) + " "
	style := lipgloss.NewStyle().Bold(true)
	switch s {
	case lifecycle.StateReady:
		style = style.Foreground(ColorSuccess)
	case lifecycle.StateDegraded, lifecycle.StateSetupRequired:
		style = style.Foreground(ColorWarning)
	case lifecycle.StateRecoveryRequired:
		style = style.Foreground(ColorError)
	default:
		style = style.Foreground(ColorTealPrimary)
	}
	return style.Render(text)
}

func stepIcon(s lifecycle.StepState) Icon {
	switch s {
	case lifecycle.StepOK:
		return IconSuccess
	case lifecycle.StepWarning:
		return IconWarning
	case lifecycle.StepError:
		return IconError
	case lifecycle.StepRunning:
		return IconRunning
	default:
		return IconPending
	}
}

func modeName(m lifecycle.Mode) string {
	switch m {
	case lifecycle.ModeAssistant:
		return "Assistant"
	case lifecycle.ModeDictation:
		return "Dictation"
	default:
		return string(m)
	}
}

func modeStatus(s lifecycle.ModeStatus) string {
	style := lipgloss.NewStyle().Width(10)
	switch s {
	case lifecycle.ModeAvailable:
		style = style.Foreground(ColorSuccess)
	case lifecycle.ModeDegraded:
		style = style.Foreground(ColorWarning)
	default:
		style = style.Foreground(ColorError)
	}
	return style.Render(string(s))
}

func showProgress(snap lifecycle.Snapshot) bool {
	if snap.State == lifecycle.StateDownloading || snap.State == lifecycle.StateRecoveryRequired {
		return len(snap.DownloadProgress) > 0
	}
	return false
}

func needsAttention(s lifecycle.State) bool {
	switch s {
	case lifecycle.StateDegraded, lifecycle.StateSetupRequired, lifecycle.StateRecoveryRequired:
		return true
	}
	return false
}

func progressDetail(p lifecycle.ProgressLine) string {
	switch p.Status {
	case lifecycle.ProgressComplete:
		return Styles.Success.Render("done")
	case lifecycle.ProgressFailed:
		return Styles.Error.Render("failed")
	case lifecycle.ProgressVerifying:
		return Styles.Muted.Render("verifying")
	case lifecycle.ProgressPending:
		return Styles.Muted.Render("waiting")
	}
	if p.BytesTotal <= 0 {
		return Styles.Muted.Render(humanize.Bytes(uint64(max(p.BytesDownloaded, 0))))
	}
	return Styles.Muted.Render(fmt.Sprintf("%s / %s",
		humanize.Bytes(uint64(max(p.BytesDownloaded, 0))), humanize.Bytes(uint64(p.BytesTotal))))
}
