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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// ErrNoJSON is returned when a response contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

type rawIntent struct {
	AnalysisType   string   `json:"analysis_type"`
	Intent         string   `json:"intent"`
	Complexity     string   `json:"complexity"`
	Approach       string   `json:"approach"`
	Confidence     *float64 `json:"confidence"`
	CrossReference bool     `json:"cross_reference"`
}

// ExtractJSONObject returns the first balanced {...} object in s, after
// removing markdown code fences.
func ExtractJSONObject(s string) (string, error) {
	s = stripFences(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSON
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSON
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// ParseResponse turns a model response into an IntentRecord.
//
// # Description
//
// analysis_type, intent and confidence are required. A missing
// complexity defaults to moderate and a missing approach to the prior's
// suggestion. Unknown enum values are errors. Confidence is clamped.
//
// # Outputs
//
//   - datatypes.IntentRecord: The record, with prior terms and source kind
//     copied in.
//   - error: Non-nil when the response cannot be used.
func ParseResponse(text string, prior Prior, kind datatypes.DataSourceKind) (datatypes.IntentRecord, error) {
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return datatypes.IntentRecord{}, err
	}
	var raw rawIntent
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return datatypes.IntentRecord{}, fmt.Errorf("decode intent: %w", err)
	}

	at, ok := datatypes.ParseAnalysisType(strings.ToLower(strings.TrimSpace(raw.AnalysisType)))
	if !ok {
		return datatypes.IntentRecord{}, fmt.Errorf("unknown analysis_type %q", raw.AnalysisType)
	}
	in, ok := datatypes.ParseIntent(strings.ToLower(strings.TrimSpace(raw.Intent)))
	if !ok {
		return datatypes.IntentRecord{}, fmt.Errorf("unknown intent %q", raw.Intent)
	}
	if raw.Confidence == nil {
		return datatypes.IntentRecord{}, errors.New("missing confidence")
	}

	cx := datatypes.ComplexityModerate
	if raw.Complexity != "" {
		if cx, ok = datatypes.ParseComplexity(strings.ToLower(strings.TrimSpace(raw.Complexity))); !ok {
			return datatypes.IntentRecord{}, fmt.Errorf("unknown complexity %q", raw.Complexity)
		}
	}
	ap := prior.Suggested
	if raw.Approach != "" {
		if ap, ok = datatypes.ParseApproach(strings.ToLower(strings.TrimSpace(raw.Approach))); !ok {
			return datatypes.IntentRecord{}, fmt.Errorf("unknown approach %q", raw.Approach)
		}
	}

	return datatypes.IntentRecord{
		AnalysisType:   at,
		Intent:         in,
		Complexity:     cx,
		Approach:       ap,
		Confidence:     datatypes.ClampConfidence(*raw.Confidence),
		CrossReference: raw.CrossReference,
		SourceKind:     kind,
		SQLTerms:       prior.SQLTerms,
		AnalysisTerms:  prior.AnalysisTerms,
	}, nil
}

// FallbackRecord is the documented record used when classification fails.
func FallbackRecord(prior Prior, kind datatypes.DataSourceKind) datatypes.IntentRecord {
	approach := prior.Suggested
	if approach == "" {
		approach = datatypes.ApproachCrewOnly
	}
	return datatypes.IntentRecord{
		AnalysisType:  datatypes.AnalysisGeneral,
		Intent:        datatypes.IntentSummary,
		Complexity:    datatypes.ComplexityModerate,
		Approach:      approach,
		Confidence:    0.5,
		SourceKind:    kind,
		SQLTerms:      prior.SQLTerms,
		AnalysisTerms: prior.AnalysisTerms,
		Fallback:      true,
	}
}
