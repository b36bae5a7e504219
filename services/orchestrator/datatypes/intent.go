// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Intent Enumerations
// =============================================================================

// AnalysisType is the kind of analysis a query asks for.
type AnalysisType string

const (
	AnalysisDescriptive AnalysisType = "descriptive"
	AnalysisComparative AnalysisType = "comparative"
	AnalysisPredictive  AnalysisType = "predictive"
	AnalysisCorrelation AnalysisType = "correlation"
	AnalysisTrend       AnalysisType = "trend"

	// AnalysisGeneral is only produced by the fallback intent record.
	AnalysisGeneral AnalysisType = "general"
)

// Intent is what the user wants out of the analysis.
type Intent string

const (
	IntentSummary     Intent = "summary"
	IntentExploration Intent = "exploration"
	IntentComparison  Intent = "comparison"
	IntentPrediction  Intent = "prediction"
	IntentInsight     Intent = "insight"
)

// Complexity is the classifier's estimate of query difficulty.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Approach names an execution plan shape.
type Approach string

const (
	ApproachSQLOnly  Approach = "sql_only"
	ApproachCrewOnly Approach = "crew_only"
	ApproachBoth     Approach = "both"
)

// ParseAnalysisType validates a raw analysis type.
func ParseAnalysisType(s string) (AnalysisType, bool) {
	switch v := AnalysisType(s); v {
	case AnalysisDescriptive, AnalysisComparative, AnalysisPredictive,
		AnalysisCorrelation, AnalysisTrend, AnalysisGeneral:
		return v, true
	}
	return "", false
}

// ParseIntent validates a raw intent.
func ParseIntent(s string) (Intent, bool) {
	switch v := Intent(s); v {
	case IntentSummary, IntentExploration, IntentComparison, IntentPrediction, IntentInsight:
		return v, true
	}
	return "", false
}

// ParseComplexity validates a raw complexity.
func ParseComplexity(s string) (Complexity, bool) {
	switch v := Complexity(s); v {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return v, true
	}
	return "", false
}

// ParseApproach validates a raw approach.
func ParseApproach(s string) (Approach, bool) {
	switch v := Approach(s); v {
	case ApproachSQLOnly, ApproachCrewOnly, ApproachBoth:
		return v, true
	}
	return "", false
}

// =============================================================================
// IntentRecord
// =============================================================================

// IntentRecord is the structured classification of a query.
//
// Produced once per query by the intent classifier and never modified
// afterwards. Besides the classified fields it carries the routing
// inputs (source kind and keyword prior) so that routing is a pure
// function of the record.
type IntentRecord struct {
	AnalysisType AnalysisType `json:"analysis_type"`
	Intent       Intent       `json:"intent"`
	Complexity   Complexity   `json:"complexity"`
	Approach     Approach     `json:"approach"`
	Confidence   float64      `json:"confidence"`

	// CrossReference is set when answering requires a database and a file
	// together.
	CrossReference bool `json:"cross_reference"`

	// SourceKind is the kind of the data source the query targets.
	SourceKind DataSourceKind `json:"source_kind"`

	// SQLTerms and AnalysisTerms are the keyword-prior matches.
	SQLTerms      []string `json:"sql_terms,omitempty"`
	AnalysisTerms []string `json:"analysis_terms,omitempty"`

	// Fallback marks the documented fallback record.
	Fallback bool `json:"fallback"`
}

// HasSQLTerms reports whether the query text contained SQL-indicative terms.
func (r IntentRecord) HasSQLTerms() bool { return len(r.SQLTerms) > 0 }

// ClampConfidence limits c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// =============================================================================
// ExecutionPlan
// =============================================================================

// PathName identifies an analysis path.
type PathName string

const (
	PathSQL  PathName = "sql"
	PathCrew PathName = "crew"
)

// ExecutionPlan lists the paths a request runs. Paths in a plan run
// concurrently.
type ExecutionPlan struct {
	Approach Approach   `json:"approach"`
	Paths    []PathName `json:"paths"`

	// Rule is the index (1-4) of the routing rule that matched.
	Rule int `json:"rule"`
}

// PlanFor returns the canonical plan for an approach.
func PlanFor(a Approach, rule int) ExecutionPlan {
	switch a {
	case ApproachSQLOnly:
		return ExecutionPlan{Approach: a, Paths: []PathName{PathSQL}, Rule: rule}
	case ApproachBoth:
		return ExecutionPlan{Approach: a, Paths: []PathName{PathSQL, PathCrew}, Rule: rule}
	default:
		return ExecutionPlan{Approach: ApproachCrewOnly, Paths: []PathName{PathCrew}, Rule: rule}
	}
}

// Includes reports whether the plan runs the given path.
func (p ExecutionPlan) Includes(name PathName) bool {
	for _, n := range p.Paths {
		if n == name {
			return true
		}
	}
	return false
}
