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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ModelKeeper/cmd/modelkeeper/config"
	"github.com/AleutianAI/ModelKeeper/pkg/ux"
	"github.com/AleutianAI/ModelKeeper/services/readiness/lifecycle"
	"github.com/AleutianAI/ModelKeeper/services/readiness/manifest"
)

// withApp loads the configuration, builds the engine, runs fn and tears the
// engine down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, p *ux.Printer) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	p := ux.Stdout()
	p.Out = cmd.OutOrStdout()
	return fn(ctx, a, p)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, p *ux.Printer) error {
		return status(ctx, a, p)
	})
}

func status(ctx context.Context, a *app, p *ux.Printer) error {
	snap, err := a.svc.StartCheck(ctx)
	p.Raw(ux.RenderSnapshot(snap, p.Level))
	return err
}

func runInstall(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, p *ux.Printer) error {
		return install(ctx, a, p, assumeYes, ux.ConfirmDownload)
	})
}

// confirmFunc asks the user to approve downloading the pending lines.
type confirmFunc func(lines []lifecycle.ProgressLine) (bool, error)

// install checks, asks for confirmation when needed and downloads.
func install(ctx context.Context, a *app, p *ux.Printer, yes bool, confirm confirmFunc) error {
	snap, err := a.svc.StartCheck(ctx)
	if err != nil {
		p.Raw(ux.RenderSnapshot(snap, p.Level))
		return err
	}
	if !snap.DownloadConfirmation.Required {
		p.Raw(ux.RenderSnapshot(snap, p.Level))
		return nil
	}

	if !yes {
		approved, err := confirm(snap.DownloadProgress)
		if err != nil {
			return err
		}
		if !approved {
			p.Warning("Download not approved. Assistant and Dictation stay limited until models are installed.")
			return nil
		}
	}
	return download(ctx, a, p)
}

// download confirms and streams progress while the check runs.
func download(ctx context.Context, a *app, p *ux.Printer) error {
	progress := newProgressPrinter(p)
	unsubscribe := a.svc.OnSnapshot(progress.onSnapshot)
	snap, err := a.svc.ConfirmDownload(ctx)
	unsubscribe()

	p.Raw(ux.RenderSnapshot(snap, p.Level))
	if err != nil {
		return err
	}
	if snap.State == lifecycle.StateRecoveryRequired {
		return fmt.Errorf("model installation failed: %s", snap.Diagnostics.Summary)
	}
	return nil
}

func runRetry(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, p *ux.Printer) error {
		if assumeYes {
			return download(ctx, a, p)
		}
		snap, err := a.svc.Retry(ctx)
		p.Raw(ux.RenderSnapshot(snap, p.Level))
		return err
	})
}

func runChangePath(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, p *ux.Printer) error {
		snap, err := a.svc.ChangePath(ctx, args[0])
		if err != nil {
			return err
		}
		p.Success("Model storage moved to " + args[0])
		p.Raw(ux.RenderSnapshot(snap, p.Level))
		return nil
	})
}

func runDiagnostics(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app, p *ux.Printer) error {
		if _, err := a.svc.StartCheck(ctx); err != nil {
			// The inspection failure is itself the diagnostic.
			p.Warning(err.Error())
		}
		p.Raw(a.svc.CopyDiagnostics())
		return nil
	})
}

func runManifest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	bundle, err := manifest.Load(cfg.Manifest.Path)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(bundle)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// progressPrinter prints one line per progress status change, plus byte
// updates in machine mode.
type progressPrinter struct {
	p    *ux.Printer
	last map[string]lifecycle.ProgressStatus
}

func newProgressPrinter(p *ux.Printer) *progressPrinter {
	return &progressPrinter{p: p, last: map[string]lifecycle.ProgressStatus{}}
}

func (pp *progressPrinter) onSnapshot(s lifecycle.Snapshot) {
	if s.State != lifecycle.StateDownloading {
		return
	}
	for _, line := range s.DownloadProgress {
		prev, seen := pp.last[line.ArtifactID]
		pp.last[line.ArtifactID] = line.Status
		changed := !seen || prev != line.Status
		byteUpdate := pp.p.Level == ux.PersonalityMachine && line.Status == lifecycle.ProgressDownloading
		if !changed && !byteUpdate {
			continue
		}
		if !seen && line.Status == lifecycle.ProgressComplete {
			continue
		}
		switch line.Status {
		case lifecycle.ProgressDownloading:
			pp.p.Info(fmt.Sprintf("%s: downloading %d%%", line.Label, line.Percent))
		case lifecycle.ProgressVerifying:
			pp.p.Info(line.Label + ": verifying checksum")
		case lifecycle.ProgressComplete:
			pp.p.Success(line.Label + ": installed")
		case lifecycle.ProgressFailed:
			pp.p.Error(line.Label + ": failed")
		}
	}
}
