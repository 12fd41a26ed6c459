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
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/ModelKeeper/services/readiness/lifecycle"
)

// ErrNotInteractive is returned by ConfirmDownload when no terminal is
// attached.
var ErrNotInteractive = errors.New("download confirmation needs an interactive terminal; pass --yes to approve")

// DownloadSummary describes what a confirmation would fetch.
func DownloadSummary(lines []lifecycle.ProgressLine) string {
	var b strings.Builder
	var total int64
	for _, p := range lines {
		if p.Status == lifecycle.ProgressComplete {
			continue
		}
		total += p.BytesTotal
		fmt.Fprintf(&b, "%s %s (%s)\n", IconBullet, p.Label, humanize.Bytes(uint64(max(p.BytesTotal, 0))))
	}
	fmt.Fprintf(&b, "Total: %s", humanize.Bytes(uint64(max(total, 0))))
	return b.String()
}

// ConfirmDownload asks once for consent to download the missing models.
func ConfirmDownload(lines []lifecycle.ProgressLine) (bool, error) {
	if !IsInteractive() {
		return false, ErrNotInteractive
	}
	approved := false
	err := huh.NewConfirm().
		Title("Download required AI models?").
		Description(DownloadSummary(lines)).
		Affirmative("Download").
		Negative("Not now").
		Value(&approved).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return approved, nil
}
