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

import "time"

// =============================================================================
// Path Results
// =============================================================================

// PathStatus is the terminal outcome of an analysis path.
type PathStatus string

const (
	StatusOK       PathStatus = "ok"
	StatusDegraded PathStatus = "degraded"
	StatusFailed   PathStatus = "failed"
)

// Contributes reports whether a result with this status is merged by the
// synthesizer.
func (s PathStatus) Contributes() bool {
	return s == StatusOK || s == StatusDegraded
}

// SQLPayload is the output of a successful SQL path.
type SQLPayload struct {
	Query       string   `json:"query"`
	RowCount    int      `json:"row_count"`
	SampleRows  [][]any  `json:"sample_rows"`
	ColumnNames []string `json:"column_names"`

	// Attempts is the number of generate calls made (1 or 2).
	Attempts int `json:"attempts"`
}

// ChartSpec is a visualization proposed by the visualization stage.
type ChartSpec struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	X           string `json:"x,omitempty"`
	Y           string `json:"y,omitempty"`
	Description string `json:"description,omitempty"`
}

// StageOutput is the immutable output of one crew stage.
type StageOutput struct {
	Stage           string             `json:"stage"`
	Role            string             `json:"role"`
	Summary         string             `json:"summary"`
	Insights        []string           `json:"insights,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Charts          []ChartSpec        `json:"charts,omitempty"`

	// Placeholder is set when the stage failed and default text was
	// substituted.
	Placeholder bool   `json:"placeholder"`
	Error       string `json:"error,omitempty"`
}

// CrewPayload is the output of the crew path.
type CrewPayload struct {
	AnalysisType AnalysisType  `json:"analysis_type"`
	Template     string        `json:"template"`
	Stages       []StageOutput `json:"stages"`
}

// Stage returns the output of the named stage.
func (p *CrewPayload) Stage(name string) (StageOutput, bool) {
	if p == nil {
		return StageOutput{}, false
	}
	for _, s := range p.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageOutput{}, false
}

// RealStages counts stages that produced genuine (non-placeholder) output.
func (p *CrewPayload) RealStages() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, s := range p.Stages {
		if !s.Placeholder {
			n++
		}
	}
	return n
}

// PathResult is the terminal outcome of one analysis path.
//
// Exactly one of SQL or Crew is set on a non-failed result.
type PathResult struct {
	Path     PathName      `json:"path"`
	Status   PathStatus    `json:"status"`
	SQL      *SQLPayload   `json:"sql,omitempty"`
	Crew     *CrewPayload  `json:"crew,omitempty"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// FailedResult builds a failed PathResult carrying err.
func FailedResult(path PathName, err error) PathResult {
	r := PathResult{Path: path, Status: StatusFailed, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// =============================================================================
// Synthesis
// =============================================================================

// Conflict records a numeric disagreement resolved in favour of SQL.
type Conflict struct {
	Metric    string  `json:"metric"`
	SQLValue  float64 `json:"sql_value"`
	CrewValue float64 `json:"crew_value"`
}

// ConfidenceFactors are the five scored inputs of the confidence sum.
type ConfidenceFactors struct {
	DataQuality             float64 `json:"data_quality"`
	AnalysisDepth           float64 `json:"analysis_depth"`
	Consistency             float64 `json:"consistency"`
	StatisticalSignificance float64 `json:"statistical_significance"`
	BusinessRelevance       float64 `json:"business_relevance"`
}

// SynthesisResult is the merged answer of a request.
type SynthesisResult struct {
	AnswerText      string             `json:"answer_text"`
	Insights        []string           `json:"insights"`
	Recommendations []string           `json:"recommendations"`
	Confidence      float64            `json:"confidence"`
	Sources         []PathName         `json:"sources"`
	Excluded        []PathName         `json:"excluded,omitempty"`
	Visualizations  []ChartSpec        `json:"visualizations,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Conflicts       []Conflict         `json:"conflicts,omitempty"`
	Factors         ConfidenceFactors  `json:"factors"`
}

// HasSource reports whether the named path contributed.
func (r SynthesisResult) HasSource(name PathName) bool {
	for _, s := range r.Sources {
		if s == name {
			return true
		}
	}
	return false
}
