// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name     string
		rec      datatypes.IntentRecord
		approach datatypes.Approach
		rule     int
	}{
		{
			name:     "database source above sql threshold",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceDatabase, Intent: datatypes.IntentSummary, Confidence: 0.7},
			approach: datatypes.ApproachSQLOnly, rule: RuleSQL,
		},
		{
			name:     "sql terms on file source",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceFile, SQLTerms: []string{"join"}, Intent: datatypes.IntentInsight, Confidence: 0.75},
			approach: datatypes.ApproachSQLOnly, rule: RuleSQL,
		},
		{
			name:     "sql rule wins over crew rule",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceDatabase, Intent: datatypes.IntentComparison, Confidence: 0.95},
			approach: datatypes.ApproachSQLOnly, rule: RuleSQL,
		},
		{
			name:     "database below sql threshold falls to crew rule",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceDatabase, Intent: datatypes.IntentExploration, Confidence: 0.65},
			approach: datatypes.ApproachCrewOnly, rule: RuleCrew,
		},
		{
			name:     "insight on file",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceFile, Intent: datatypes.IntentInsight, Confidence: 0.6},
			approach: datatypes.ApproachCrewOnly, rule: RuleCrew,
		},
		{
			name:     "complex prediction on file",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceFile, Intent: datatypes.IntentPrediction, Complexity: datatypes.ComplexityComplex, Confidence: 0.85},
			approach: datatypes.ApproachBoth, rule: RuleBoth,
		},
		{
			name:     "cross reference",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceFile, Intent: datatypes.IntentSummary, CrossReference: true, Confidence: 0.8},
			approach: datatypes.ApproachBoth, rule: RuleBoth,
		},
		{
			name:     "complex below both threshold",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceFile, Intent: datatypes.IntentPrediction, Complexity: datatypes.ComplexityComplex, Confidence: 0.79},
			approach: datatypes.ApproachCrewOnly, rule: RuleDefault,
		},
		{
			name:     "fallback record on file",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceFile, AnalysisType: datatypes.AnalysisGeneral, Intent: datatypes.IntentSummary, Confidence: 0.5, Fallback: true},
			approach: datatypes.ApproachCrewOnly, rule: RuleDefault,
		},
		{
			name:     "fallback record on database stays below sql threshold",
			rec:      datatypes.IntentRecord{SourceKind: datatypes.SourceDatabase, Intent: datatypes.IntentSummary, Confidence: 0.5, Fallback: true},
			approach: datatypes.ApproachCrewOnly, rule: RuleDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Decide(DefaultConfig(), tt.rec)
			assert.Equal(t, tt.approach, plan.Approach)
			assert.Equal(t, tt.rule, plan.Rule)
		})
	}
}

func TestRoute_IsPure(t *testing.T) {
	r := New(DefaultConfig())
	rec := datatypes.IntentRecord{SourceKind: datatypes.SourceFile, Intent: datatypes.IntentSummary, Complexity: datatypes.ComplexityComplex, Confidence: 0.9}
	first := r.Route(rec)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Route(rec))
	}
	assert.Equal(t, []datatypes.PathName{datatypes.PathSQL, datatypes.PathCrew}, first.Paths)
}

func TestRoute_CustomThresholds(t *testing.T) {
	r := New(Config{SQLConfidence: 0.95, CrewConfidence: 0.6, BothConfidence: 0.8})
	plan := r.Route(datatypes.IntentRecord{SourceKind: datatypes.SourceDatabase, Intent: datatypes.IntentSummary, Confidence: 0.9})
	assert.Equal(t, datatypes.ApproachCrewOnly, plan.Approach)
}

func TestRoute_ClampsOutOfRangeConfidence(t *testing.T) {
	plan := Decide(DefaultConfig(), datatypes.IntentRecord{SourceKind: datatypes.SourceDatabase, Confidence: 3})
	assert.Equal(t, datatypes.ApproachSQLOnly, plan.Approach)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{SQLConfidence: 1.2}.Validate())
}
