// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode defines the richness of CLI output
type Mode string

const (
	// ModeRich enables colors, boxes and icons
	ModeRich Mode = "rich"

	// ModePlain keeps icons and layout without color
	ModePlain Mode = "plain"

	// ModeMachine outputs plain text suitable for scripting and parsing
	ModeMachine Mode = "machine"
)

// ParseMode converts a string to Mode. Unknown values are plain.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "r":
		return ModeRich
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModePlain
	}
}

// DetectMode picks the mode from ALEUTIAN_OUTPUT, then from whether
// stdout is a terminal. NO_COLOR downgrades rich to plain.
func DetectMode() Mode {
	if env := os.Getenv("ALEUTIAN_OUTPUT"); env != "" {
		return ParseMode(env)
	}
	if !isTerminal(os.Stdout) {
		return ModeMachine
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return ModePlain
	}
	return ModeRich
}

// isTerminal reports whether f is a terminal, including Cygwin ptys
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ShowProgress reports whether spinners should animate in mode.
func (m Mode) ShowProgress() bool {
	return m != ModeMachine && isTerminal(os.Stderr)
}
