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
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// ModelKeeper palette, deep teals with standard semantic colors
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#2C4A54")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconRunning Icon = "◐"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	case IconRunning:
		return Styles.Highlight.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes styled messages according to an output level. Machine
// output sends warnings and errors to Err with a level prefix.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Level PersonalityLevel
}

// Stdout returns a Printer on os.Stdout/os.Stderr at the current level
func Stdout() *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Level: GetPersonalityLevel()}
}

// Title prints a styled title. Machine output omits it.
func (p *Printer) Title(text string) {
	if p.Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(p.Out, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", IconError.Render(), text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.Level == PersonalityMachine {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if p.Level == PersonalityMachine {
		fmt.Fprintf(p.Out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// Raw writes s unchanged followed by a newline
func (p *Printer) Raw(s string) {
	fmt.Fprintln(p.Out, s)
}
