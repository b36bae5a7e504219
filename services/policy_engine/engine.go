// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine classifies uploaded data against regex rules
// (secrets, personal data) before it reaches a data source or a model.
package policy_engine

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianQuery/services/policy_engine/enforcement"
)

// Public is the classification of content that matched no rule.
const Public = "public"

// PolicyEngine holds compiled classification rules, highest priority first.
//
// Thread Safety: Safe for concurrent use once built.
type PolicyEngine struct {
	Classifiers []Classification
}

// NewPolicyEngine builds an engine from the rules embedded in the binary.
func NewPolicyEngine() (*PolicyEngine, error) {
	return Load(enforcement.DataClassificationPatterns)
}

// Load builds an engine from YAML rules.
//
// # Inputs
//
//   - raw: A document with a top-level "classifications" list.
//
// # Outputs
//
//   - *PolicyEngine: Rules compiled and sorted by priority.
//   - error: Malformed YAML, an unnamed classification or a bad regex.
func Load(raw []byte) (*PolicyEngine, error) {
	var file ClassificationFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if len(file.Classifications) == 0 {
		return nil, fmt.Errorf("policy file has no classifications")
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	file.sortByPriority()
	return &PolicyEngine{Classifiers: file.Classifications}, nil
}

// LoadFile builds an engine from a YAML rules file on disk.
func LoadFile(path string) (*PolicyEngine, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Load(raw)
}

// ClassifyData returns the name of the highest-priority classification
// matched anywhere in data, or Public.
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, pattern := range classifier.Patterns {
			if pattern.compiled.Match(data) {
				return classifier.Name
			}
		}
	}
	return Public
}

// ScanContent checks every line of content against every pattern.
//
// Findings are ordered by line, then by classification priority. At most
// limit findings are returned; limit <= 0 means no limit.
func (e *PolicyEngine) ScanContent(content []byte, limit int) []ScanFinding {
	var findings []ScanFinding
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := sc.Text()
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiled.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					LineNumber:         lineNum,
					MaskedContent:      mask(strings.TrimSpace(match)),
					ClassificationName: classifier.Name,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
				})
				if limit > 0 && len(findings) >= limit {
					return findings
				}
			}
		}
	}
	return findings
}

// priority returns the priority of a classification name, or -1.
func (e *PolicyEngine) priority(name string) int {
	for _, c := range e.Classifiers {
		if c.Name == name {
			return c.Priority
		}
	}
	return -1
}

// mask keeps the first four characters of s.
func mask(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + strings.Repeat("*", len(r)-4)
}
