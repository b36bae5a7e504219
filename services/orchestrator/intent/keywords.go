// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// MaxKeywordFileSize bounds an external keyword file (256KB).
const MaxKeywordFileSize = 256 * 1024

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// Category is the class a keyword indicates.
type Category string

const (
	CategorySQL      Category = "sql"
	CategoryAnalysis Category = "analysis"
)

type keywordsYAML struct {
	SQL      []string `yaml:"sql"`
	Analysis []string `yaml:"analysis"`
}

// KeywordTable maps terms to categories. It is immutable after loading.
type KeywordTable struct {
	terms   map[string]Category
	phrases []string
}

// Prior is the deterministic keyword-membership result for a query.
type Prior struct {
	SQLTerms      []string
	AnalysisTerms []string

	// Suggested is the approach implied by the keywords and source kind.
	Suggested datatypes.Approach
}

// ParseKeywords builds a table from YAML. Overlapping or empty term sets
// are an error.
func ParseKeywords(data []byte) (*KeywordTable, error) {
	var raw keywordsYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse keywords: %w", err)
	}
	if len(raw.SQL) == 0 || len(raw.Analysis) == 0 {
		return nil, fmt.Errorf("keywords: both sql and analysis term sets are required")
	}

	t := &KeywordTable{terms: make(map[string]Category, len(raw.SQL)+len(raw.Analysis))}
	add := func(cat Category, terms []string) error {
		for _, term := range terms {
			norm := normalize(term)
			if norm == "" {
				continue
			}
			if prev, ok := t.terms[norm]; ok && prev != cat {
				return fmt.Errorf("keywords: term %q is in both %s and %s sets", norm, prev, cat)
			}
			t.terms[norm] = cat
			if strings.Contains(norm, " ") {
				t.phrases = append(t.phrases, norm)
			}
		}
		return nil
	}
	if err := add(CategorySQL, raw.SQL); err != nil {
		return nil, err
	}
	if err := add(CategoryAnalysis, raw.Analysis); err != nil {
		return nil, err
	}
	sort.Strings(t.phrases)
	return t, nil
}

// LoadKeywordFile reads a keyword table from path.
func LoadKeywordFile(path string) (*KeywordTable, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat keywords: %w", err)
	}
	if info.Size() > MaxKeywordFileSize {
		return nil, fmt.Errorf("keywords file %s exceeds %d bytes", path, MaxKeywordFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keywords: %w", err)
	}
	return ParseKeywords(data)
}

var (
	defaultOnce  sync.Once
	defaultTable *KeywordTable
)

// DefaultKeywords returns the embedded table, parsed once per process.
func DefaultKeywords() *KeywordTable {
	defaultOnce.Do(func() {
		t, err := ParseKeywords(defaultKeywordsYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded keywords.yaml is invalid: %v", err))
		}
		defaultTable = t
	})
	return defaultTable
}

// Terms returns the terms of a category, sorted.
func (t *KeywordTable) Terms(cat Category) []string {
	var out []string
	for term, c := range t.terms {
		if c == cat {
			out = append(out, term)
		}
	}
	sort.Strings(out)
	return out
}

// Match returns the matched terms of each category, in order of first
// appearance, without duplicates.
func (t *KeywordTable) Match(text string) (sqlTerms, analysisTerms []string) {
	norm := normalize(text)
	if norm == "" {
		return nil, nil
	}
	seen := make(map[string]bool)
	collect := func(term string) {
		if seen[term] {
			return
		}
		seen[term] = true
		switch t.terms[term] {
		case CategorySQL:
			sqlTerms = append(sqlTerms, term)
		case CategoryAnalysis:
			analysisTerms = append(analysisTerms, term)
		}
	}

	padded := " " + norm + " "
	for _, phrase := range t.phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			collect(phrase)
		}
	}
	for _, word := range strings.Fields(norm) {
		if _, ok := t.terms[word]; ok {
			collect(word)
		}
	}
	return sqlTerms, analysisTerms
}

// Prior computes the keyword prior for a query against a source kind.
//
// SQL and analysis terms together suggest both paths; SQL terms alone or a
// database source suggest sql_only; everything else suggests crew_only.
func (t *KeywordTable) Prior(text string, kind datatypes.DataSourceKind) Prior {
	sqlTerms, analysisTerms := t.Match(text)
	p := Prior{SQLTerms: sqlTerms, AnalysisTerms: analysisTerms}
	needsSQL := len(sqlTerms) > 0 || kind == datatypes.SourceDatabase
	switch {
	case needsSQL && len(analysisTerms) > 0:
		p.Suggested = datatypes.ApproachBoth
	case needsSQL:
		p.Suggested = datatypes.ApproachSQLOnly
	default:
		p.Suggested = datatypes.ApproachCrewOnly
	}
	return p
}

// normalize lowercases s and replaces runs of non-alphanumerics with a
// single space.
func normalize(s string) string {
	var sb strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			space = false
			continue
		}
		if !space {
			sb.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(sb.String())
}
