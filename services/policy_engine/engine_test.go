// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy_engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPolicyEngine(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}

	tests := []struct {
		name            string
		input           string
		shouldFind      bool
		expectedClass   string
		expectedPattern string
	}{
		{
			name:          "Safe row",
			input:         "region,amount\nEast,300\nWest,50",
			shouldFind:    false,
			expectedClass: "",
		},
		{
			name:            "AWS Access Key (Secret)",
			input:           "account,key\nprod,AKIA1234567890123456",
			shouldFind:      true,
			expectedClass:   "secret",
			expectedPattern: "AWS_ACCESS_KEY_ID",
		},
		{
			name:            "Email Address (PII)",
			input:           "name,contact\nJ Doe,jdoe@example.com",
			shouldFind:      true,
			expectedClass:   "pii",
			expectedPattern: "EMAIL_ADDRESS",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			findings := engine.ScanContent([]byte(tc.input), 0)
			fastClass := engine.ClassifyData([]byte(tc.input))

			if !tc.shouldFind {
				if len(findings) > 0 {
					t.Errorf("Expected 0 findings, got %d. First match: %s", len(findings), findings[0].PatternId)
				}
				if fastClass != Public {
					t.Errorf("Expected %q for safe content, got %q", Public, fastClass)
				}
				return
			}

			if len(findings) == 0 {
				t.Fatalf("Expected to find %q but got 0 findings.", tc.expectedPattern)
			}
			first := findings[0]
			if first.ClassificationName != tc.expectedClass {
				t.Errorf("Expected classification %q, got %q", tc.expectedClass, first.ClassificationName)
			}
			if first.PatternId != tc.expectedPattern {
				t.Errorf("Expected pattern ID %q, got %q", tc.expectedPattern, first.PatternId)
			}
			if first.LineNumber != 2 {
				t.Errorf("Expected line 2, got %d", first.LineNumber)
			}
			if fastClass != tc.expectedClass {
				t.Errorf("ClassifyData mismatch. Expected %q, got %q", tc.expectedClass, fastClass)
			}
		})
	}
}

func TestScanContent_MasksMatches(t *testing.T) {
	engine, _ := NewPolicyEngine()
	findings := engine.ScanContent([]byte("key=AKIA1234567890123456"), 0)
	if len(findings) == 0 {
		t.Fatal("expected a finding")
	}
	got := findings[0].MaskedContent
	if got != "AKIA"+strings.Repeat("*", 16) {
		t.Errorf("MaskedContent = %q", got)
	}
}

func TestScanContent_Limit(t *testing.T) {
	engine, _ := NewPolicyEngine()
	content := strings.Repeat("a@example.com\n", 20)
	if got := len(engine.ScanContent([]byte(content), 5)); got != 5 {
		t.Errorf("expected 5 findings, got %d", got)
	}
}

func TestEngineInitializationProperties(t *testing.T) {
	engine, err := NewPolicyEngine()
	if err != nil {
		t.Fatalf("Failed to init: %v", err)
	}
	if len(engine.Classifiers) < 2 {
		t.Fatal("Not enough classifiers loaded to test sorting.")
	}
	for i := 1; i < len(engine.Classifiers); i++ {
		if engine.Classifiers[i-1].Priority < engine.Classifiers[i].Priority {
			t.Errorf("Classifiers are not sorted by priority at %d", i)
		}
	}
	if engine.Classifiers[0].Name != "secret" {
		t.Errorf("expected secret first, got %s", engine.Classifiers[0].Name)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not yaml", "classifications: [unclosed"},
		{"empty", "classifications: []"},
		{"bad regex", "classifications:\n  - name: x\n    patterns:\n      - id: BAD\n        regex: '('\n        confidence: high\n"},
		{"bad confidence", "classifications:\n  - name: x\n    patterns:\n      - id: P\n        regex: 'a'\n        confidence: certain\n"},
		{"unnamed", "classifications:\n  - priority: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load([]byte(tt.raw)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	rules := "classifications:\n  - name: internal\n    priority: 10\n    patterns:\n      - id: PROJECT_CODE\n        regex: 'PRJ-[0-9]{4}'\n        confidence: high\n"
	if err := os.WriteFile(path, []byte(rules), 0o600); err != nil {
		t.Fatal(err)
	}
	engine, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := engine.ClassifyData([]byte("see PRJ-1234")); got != "internal" {
		t.Errorf("ClassifyData = %q", got)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestPolicyEngine_Concurrency(t *testing.T) {
	engine, _ := NewPolicyEngine()
	input := []byte("My fake key is AKIA1234567890123456")

	for i := 0; i < 20; i++ {
		t.Run("Worker", func(t *testing.T) {
			t.Parallel()
			if len(engine.ScanContent(input, 0)) == 0 {
				t.Error("Concurrent scan failed to find secret")
			}
		})
	}
}

func BenchmarkScanSafeContent(b *testing.B) {
	engine, _ := NewPolicyEngine()
	input := []byte(strings.Repeat("East,300,2024-01-05\n", 100))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.ScanContent(input, 0)
	}
}
