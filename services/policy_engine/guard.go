// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy_engine

import (
	"fmt"
	"log/slog"
	"strings"
)

// Mode selects what the guard does with classified content.
type Mode string

const (
	// ModeOff skips scanning.
	ModeOff Mode = "off"
	// ModeFlag scans and reports the classification but never rejects.
	ModeFlag Mode = "flag"
	// ModeBlock rejects content whose classification is in Config.Block.
	ModeBlock Mode = "block"
)

// maxFindings bounds the findings kept per inspection.
const maxFindings = 50

// Config configures the upload guard.
type Config struct {
	Mode Mode `mapstructure:"mode" validate:"omitempty,oneof=off flag block"`

	// Block lists the classifications rejected in block mode.
	Block []string `mapstructure:"block"`

	// MinConfidence drops findings of lower confidence.
	MinConfidence ConfidenceLevel `mapstructure:"min_confidence" validate:"omitempty,oneof=low medium high"`

	// PatternsFile replaces the embedded rules when set.
	PatternsFile string `mapstructure:"patterns_file"`
}

// DefaultConfig flags everything and blocks nothing until block mode is
// chosen; block mode then rejects secrets.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeFlag,
		Block:         []string{"secret"},
		MinConfidence: Medium,
	}
}

// Verdict is the outcome of inspecting one piece of content.
type Verdict struct {
	Classification string        `json:"classification"`
	Findings       []ScanFinding `json:"findings,omitempty"`
}

// BlockedError is returned by Inspect when block mode rejects content.
type BlockedError struct {
	Verdict Verdict
}

func (e *BlockedError) Error() string {
	ids := make([]string, 0, 3)
	for i, f := range e.Verdict.Findings {
		if i == 3 {
			ids = append(ids, "...")
			break
		}
		ids = append(ids, fmt.Sprintf("%s line %d", f.PatternId, f.LineNumber))
	}
	return fmt.Sprintf("content classified %s: %d findings (%s)",
		e.Verdict.Classification, len(e.Verdict.Findings), strings.Join(ids, ", "))
}

// Guard applies a PolicyEngine to uploads under a Config.
type Guard struct {
	engine *PolicyEngine
	config Config
	block  map[string]bool
}

// NewGuard loads the rules named by cfg and builds a guard.
func NewGuard(cfg Config) (*Guard, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeFlag
	}
	if cfg.MinConfidence == "" {
		cfg.MinConfidence = Low
	}
	var (
		engine *PolicyEngine
		err    error
	)
	if cfg.PatternsFile != "" {
		engine, err = LoadFile(cfg.PatternsFile)
	} else {
		engine, err = NewPolicyEngine()
	}
	if err != nil {
		return nil, err
	}
	return NewGuardWithEngine(engine, cfg), nil
}

// NewGuardWithEngine builds a guard over an existing engine.
func NewGuardWithEngine(engine *PolicyEngine, cfg Config) *Guard {
	block := make(map[string]bool, len(cfg.Block))
	for _, name := range cfg.Block {
		block[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return &Guard{engine: engine, config: cfg, block: block}
}

// Mode returns the configured mode.
func (g *Guard) Mode() Mode { return g.config.Mode }

// Inspect classifies content.
//
// # Outputs
//
//   - Verdict: The highest-priority classification among the kept
//     findings, or Public.
//   - error: A *BlockedError in block mode when the classification is
//     listed in Config.Block.
func (g *Guard) Inspect(content []byte) (Verdict, error) {
	if g.config.Mode == ModeOff {
		return Verdict{Classification: Public}, nil
	}

	all := g.engine.ScanContent(content, maxFindings)
	verdict := Verdict{Classification: Public}
	best := -1
	for _, f := range all {
		if !f.Confidence.AtLeast(g.config.MinConfidence) {
			continue
		}
		verdict.Findings = append(verdict.Findings, f)
		if p := g.engine.priority(f.ClassificationName); p > best {
			best, verdict.Classification = p, f.ClassificationName
		}
	}

	if len(verdict.Findings) > 0 {
		slog.Info("Content classified",
			"classification", verdict.Classification,
			"findings", len(verdict.Findings),
			"mode", string(g.config.Mode))
	}
	if g.config.Mode == ModeBlock && g.block[verdict.Classification] {
		return verdict, &BlockedError{Verdict: verdict}
	}
	return verdict, nil
}
