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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ModelKeeper/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string
	personalityLevel string
	assumeYes        bool

	rootCmd = &cobra.Command{
		Use:   "modelkeeper",
		Short: "Acquire, verify and track the local AI models an application needs",
		Long: `ModelKeeper makes sure the speech, language and voice models required
by a local-first assistant are present and verified, downloading and
resuming them when they are not.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check which models are installed and which modes are available",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Download and verify missing models after a one-time confirmation",
		Args:  cobra.NoArgs,
		RunE:  runInstall,
	}

	retryCmd = &cobra.Command{
		Use:   "retry",
		Short: "Run the readiness check again, resuming interrupted downloads with --yes",
		Args:  cobra.NoArgs,
		RunE:  runRetry,
	}

	changePathCmd = &cobra.Command{
		Use:   "change-path <dir>",
		Short: "Move model storage to another directory and re-check",
		Args:  cobra.ExactArgs(1),
		RunE:  runChangePath,
	}

	diagnosticsCmd = &cobra.Command{
		Use:     "diagnostics",
		Short:   "Print the diagnostics report for support",
		Aliases: []string{"report"},
		Args:    cobra.NoArgs,
		RunE:    runDiagnostics,
	}

	manifestCmd = &cobra.Command{
		Use:   "manifest",
		Short: "Print the required model bundle",
		Args:  cobra.NoArgs,
		RunE:  runManifest,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the readiness API for a desktop shell",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $MODELKEEPER_HOME/modelkeeper.yaml)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "output", "", "output style: standard, minimal or machine")

	installCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "approve the model download without prompting")
	retryCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "approve the model download without prompting")

	rootCmd.AddCommand(statusCmd, installCmd, retryCmd, changePathCmd, diagnosticsCmd, manifestCmd, serveCmd)
}
