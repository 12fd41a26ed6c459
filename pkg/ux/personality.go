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
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityEnv selects the output level, overriding terminal detection.
const PersonalityEnv = "MODELKEEPER_OUTPUT"

// PersonalityLevel defines the richness of CLI output
type PersonalityLevel string

const (
	// PersonalityStandard enables colors, icons, boxes and progress bars
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons and basic formatting only
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs key=value text suitable for scripting
	PersonalityMachine PersonalityLevel = "machine"
)

var (
	currentLevel  = PersonalityStandard
	personalityMu sync.RWMutex
)

// GetPersonalityLevel returns the current output level
func GetPersonalityLevel() PersonalityLevel {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentLevel
}

// SetPersonalityLevel updates the output level
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentLevel = level
}

// ParsePersonalityLevel converts a string to PersonalityLevel
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q", "plain":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitPersonality sets the level from the environment, falling back to
// machine output when stdout is not a terminal
func InitPersonality() {
	if env := os.Getenv(PersonalityEnv); env != "" {
		SetPersonalityLevel(ParsePersonalityLevel(env))
		return
	}
	if !isTerminal(os.Stdout) {
		SetPersonalityLevel(PersonalityMachine)
		return
	}
	SetPersonalityLevel(PersonalityStandard)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether prompts can be shown: both stdin and stdout
// are terminals and output is not in machine mode
func IsInteractive() bool {
	return GetPersonalityLevel() != PersonalityMachine && isTerminal(os.Stdin) && isTerminal(os.Stdout)
}
