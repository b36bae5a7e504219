// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the aleutianq CLI.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Code      lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Code:      lipgloss.NewStyle().Foreground(ColorTealPrimary).PaddingLeft(2),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
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
	default:
		return string(i)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes styled output for one Mode.
//
// Rich output goes through lipgloss; Plain keeps icons without color;
// Machine writes "LEVEL: text" lines and JSON only. Errors and warnings go
// to Err, everything else to Out.
type Printer struct {
	Out  io.Writer
	Err  io.Writer
	Mode Mode
}

// NewPrinter returns a Printer on stdout and stderr for mode.
func NewPrinter(mode Mode) *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Mode: mode}
}

// Title prints a styled title. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	switch p.Mode {
	case ModeMachine:
	case ModePlain:
		fmt.Fprintln(p.Out, text)
	default:
		fmt.Fprintln(p.Out, Styles.Title.Render(text))
	}
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Out, "OK: %s\n", text)
	case ModePlain:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
	case ModePlain:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
	case ModePlain:
		fmt.Fprintf(p.Err, "%s %s\n", IconError, text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	switch p.Mode {
	case ModeRich:
		fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
	default:
		fmt.Fprintln(p.Out, text)
	}
}

// Muted prints secondary text. Machine mode prints nothing.
func (p *Printer) Muted(text string) {
	switch p.Mode {
	case ModeMachine:
	case ModePlain:
		fmt.Fprintln(p.Out, text)
	default:
		fmt.Fprintln(p.Out, Styles.Muted.Render(text))
	}
}

// Box prints content under title in a rounded box
func (p *Printer) Box(title, content string) {
	if p.Mode != ModeRich {
		fmt.Fprintf(p.Out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// List prints items as bullets under an optional heading.
func (p *Printer) List(heading string, items []string) {
	if len(items) == 0 {
		return
	}
	if heading != "" {
		p.Title(heading)
	}
	bullet := string(IconBullet)
	if p.Mode == ModeRich {
		bullet = Styles.Subtitle.Render(bullet)
	}
	for _, it := range items {
		if p.Mode == ModeMachine {
			fmt.Fprintf(p.Out, "%s: %s\n", strings.ToUpper(heading), it)
			continue
		}
		fmt.Fprintf(p.Out, "  %s %s\n", bullet, it)
	}
}

// Code prints an indented code block, e.g. generated SQL.
func (p *Printer) Code(text string) {
	if p.Mode == ModeRich {
		fmt.Fprintln(p.Out, Styles.Code.Render(text))
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintln(p.Out, "  "+line)
	}
}

// Table prints rows under headers with padded columns.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			widths[i] = max(widths[i], len(r[i]))
		}
	}
	line := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			c := ""
			if i < len(cells) {
				c = cells[i]
			}
			parts[i] = c + strings.Repeat(" ", widths[i]-len(c))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	head := line(headers)
	if p.Mode == ModeRich {
		head = Styles.Bold.Render(head)
	}
	if p.Mode != ModeMachine {
		fmt.Fprintln(p.Out, head)
	}
	for _, r := range rows {
		if p.Mode == ModeMachine {
			fmt.Fprintln(p.Out, strings.Join(r, "\t"))
			continue
		}
		fmt.Fprintln(p.Out, line(r))
	}
}

// JSON writes v as indented JSON to Out.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ConfidenceBar renders a score in [0,1] as a fixed-width bar
func (p *Printer) ConfidenceBar(score float64, width int) string {
	score = min(max(score, 0), 1)
	if p.Mode == ModeMachine {
		return fmt.Sprintf("%.2f", score)
	}
	filled := int(score*float64(width) + 0.5)
	bar := strings.Repeat("█", filled)
	rest := strings.Repeat("░", width-filled)
	if p.Mode == ModeRich {
		bar, rest = Styles.Success.Render(bar), Styles.Muted.Render(rest)
	}
	return fmt.Sprintf("%s%s %3.0f%%", bar, rest, score*100)
}
