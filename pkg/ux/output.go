// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the wardstone CLI.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Wardstone color palette - granite greys and warding violets
var (
	ColorVioletBright = lipgloss.Color("#B48EE0") // highlights, headings
	ColorVioletDeep   = lipgloss.Color("#7C5CBF") // borders, accents
	ColorGranite      = lipgloss.Color("#6B7280") // muted text
	ColorSuccess      = lipgloss.Color("#34D399")
	ColorWarning      = lipgloss.Color("#F4D03F")
	ColorError        = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorVioletBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorGranite),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorVioletDeep).
		Padding(0, 1),
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// IsInteractive reports whether stdout is a real terminal. Styled output
// is reserved for interactive sessions; pipes get plain text.
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Title prints a styled heading, or plain text when piped.
func Title(text string) {
	if !IsInteractive() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success line with its icon.
func Success(text string) {
	if !IsInteractive() {
		fmt.Println(text)
		return
	}
	fmt.Println(IconSuccess.Render() + " " + Styles.Success.Render(text))
}

// Error prints an error line to stderr.
func Error(text string) {
	if !IsInteractive() {
		fmt.Fprintln(os.Stderr, text)
		return
	}
	fmt.Fprintln(os.Stderr, IconError.Render()+" "+Styles.Error.Render(text))
}

// Muted prints a de-emphasized line.
func Muted(text string) {
	if !IsInteractive() {
		fmt.Println(text)
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}
