// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/services/llm/llmtest"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

var testQuery = datatypes.NewQuery("s1", "how are sales by region", datatypes.DataSourceRef{ID: "db", Kind: datatypes.SourceDatabase})

func sqlResult(rowCount int, cols []string, rows ...[]any) datatypes.PathResult {
	return datatypes.PathResult{
		Path:   datatypes.PathSQL,
		Status: datatypes.StatusOK,
		SQL: &datatypes.SQLPayload{
			Query:       "SELECT region, SUM(amount) AS total FROM sales GROUP BY region;",
			RowCount:    rowCount,
			ColumnNames: cols,
			SampleRows:  rows,
			Attempts:    1,
		},
	}
}

func regionSQL() datatypes.PathResult {
	return sqlResult(2, []string{"region", "total"}, []any{"East", int64(300)}, []any{"West", 200.0})
}

// crewResult builds a crew result; stages listed in placeholders failed.
func crewResult(metrics map[string]float64, placeholders ...string) datatypes.PathResult {
	failed := map[string]bool{}
	for _, p := range placeholders {
		failed[p] = true
	}
	payload := &datatypes.CrewPayload{AnalysisType: datatypes.AnalysisComparative, Template: "comparison"}
	for _, stage := range []string{"data_analyst", "bi_specialist", "statistician", "viz_expert"} {
		out := datatypes.StageOutput{
			Stage:           stage,
			Role:            stage,
			Summary:         stage + " summary",
			Insights:        []string{stage + " insight one", stage + " insight two"},
			Recommendations: []string{stage + " recommendation"},
		}
		if stage == "data_analyst" {
			out.Metrics = metrics
		}
		if stage == "viz_expert" {
			out.Charts = []datatypes.ChartSpec{{Type: "bar", Title: "Sales by region"}}
		}
		if failed[stage] {
			out = datatypes.StageOutput{Stage: stage, Role: stage, Summary: "placeholder", Placeholder: true, Error: "boom"}
		}
		payload.Stages = append(payload.Stages, out)
	}
	status := datatypes.StatusOK
	if len(placeholders) > 0 {
		status = datatypes.StatusDegraded
	}
	return datatypes.PathResult{Path: datatypes.PathCrew, Status: status, Crew: payload}
}

func failedResult(path datatypes.PathName) datatypes.PathResult {
	return datatypes.FailedResult(path, &datatypes.TimeoutError{Path: path})
}

func synth(t *testing.T, results ...datatypes.PathResult) datatypes.SynthesisResult {
	t.Helper()
	res, err := New(nil, nil, DefaultConfig()).Synthesize(context.Background(), results, testQuery)
	require.NoError(t, err)
	return res
}

func TestSynthesize_NothingContributes(t *testing.T) {
	s := New(nil, nil, DefaultConfig())

	_, err := s.Synthesize(context.Background(), []datatypes.PathResult{failedResult(datatypes.PathSQL), failedResult(datatypes.PathCrew)}, testQuery)
	var serr *datatypes.SynthesisError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Message, "every analysis path failed")
	assert.Contains(t, serr.Message, "sql path timed out")

	_, err = s.Synthesize(context.Background(), nil, testQuery)
	require.ErrorAs(t, err, &serr)
}

func TestSynthesize_NothingContributesKeepsPayloads(t *testing.T) {
	crew := crewResult(nil)
	crew.Status = datatypes.StatusFailed
	crew.Error = "crew stage data_analyst failed: boom"
	sql := datatypes.FailedResult(datatypes.PathSQL, errors.New("no such table: sales"))
	sql.SQL = &datatypes.SQLPayload{Query: "SELECT region FROM sales;", Attempts: 1}
	timedOut := failedResult(datatypes.PathSQL)

	_, err := New(nil, nil, DefaultConfig()).Synthesize(context.Background(), []datatypes.PathResult{crew, sql}, testQuery)
	var serr *datatypes.SynthesisError
	require.ErrorAs(t, err, &serr)
	require.Len(t, serr.Partial, 2)
	assert.Equal(t, datatypes.PathCrew, serr.Partial[0].Path)
	assert.NotNil(t, serr.Partial[0].Crew)
	assert.Equal(t, "SELECT region FROM sales;", serr.Partial[1].SQL.Query)

	_, err = New(nil, nil, DefaultConfig()).Synthesize(context.Background(), []datatypes.PathResult{timedOut}, testQuery)
	require.ErrorAs(t, err, &serr)
	assert.Empty(t, serr.Partial, "a result without a payload adds nothing")
}

func TestSynthesize_SQLOnly(t *testing.T) {
	res := synth(t, regionSQL())

	assert.Equal(t, []datatypes.PathName{datatypes.PathSQL}, res.Sources)
	assert.Empty(t, res.Excluded)
	assert.Equal(t, map[string]float64{"east.total": 300, "west.total": 200}, res.Metrics)
	assert.Contains(t, res.AnswerText, "The query returned 2 rows with columns region, total.")
	assert.Contains(t, res.AnswerText, "region=East, total=300")
	assert.InDelta(t, 0.5725, res.Confidence, 1e-9)
}

func TestSynthesize_SQLWinsConflicts(t *testing.T) {
	res := synth(t, regionSQL(), crewResult(map[string]float64{"east.total": 310, "west.total": 201}))

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, datatypes.Conflict{Metric: "east.total", SQLValue: 300, CrewValue: 310}, res.Conflicts[0])
	assert.Equal(t, 300.0, res.Metrics["east.total"])
	assert.Equal(t, 200.0, res.Metrics["west.total"])
	assert.InDelta(t, 0.85, res.Factors.Consistency, 1e-9)
	assert.Contains(t, res.AnswerText, "east.total: 300 (estimated 310)")
	// Crew narrative is kept alongside.
	assert.Contains(t, res.AnswerText, "data_analyst summary")
}

func TestSynthesize_BothOKAgreeing(t *testing.T) {
	res := synth(t, crewResult(map[string]float64{"east.total": 300}), regionSQL())

	assert.Equal(t, []datatypes.PathName{datatypes.PathCrew, datatypes.PathSQL}, res.Sources)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, datatypes.ConfidenceFactors{
		DataQuality:             1,
		AnalysisDepth:           1,
		Consistency:             1,
		StatisticalSignificance: 1,
		BusinessRelevance:       1,
	}, res.Factors)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
}

func TestSynthesize_SQLTimeoutCrewSucceeds(t *testing.T) {
	both := synth(t, regionSQL(), crewResult(nil))
	res := synth(t, failedResult(datatypes.PathSQL), crewResult(nil))

	assert.Equal(t, []datatypes.PathName{datatypes.PathCrew}, res.Sources)
	assert.Equal(t, []datatypes.PathName{datatypes.PathSQL}, res.Excluded)
	assert.InDelta(t, 0.6, res.Factors.DataQuality, 1e-9)
	assert.InDelta(t, 1.0, both.Factors.DataQuality, 1e-9)
	assert.Less(t, res.Confidence, both.Confidence)
	assert.InDelta(t, 0.7775, res.Confidence, 1e-9)
}

func TestConfidence_MonotonicInOKPaths(t *testing.T) {
	cases := []struct {
		name  string
		fewer []datatypes.PathResult
		more  []datatypes.PathResult
	}{
		{"add sql to crew", []datatypes.PathResult{crewResult(nil)}, []datatypes.PathResult{crewResult(nil), regionSQL()}},
		{"add crew to sql", []datatypes.PathResult{regionSQL()}, []datatypes.PathResult{regionSQL(), crewResult(nil)}},
		{"failed sql becomes ok", []datatypes.PathResult{failedResult(datatypes.PathSQL), crewResult(nil)}, []datatypes.PathResult{regionSQL(), crewResult(nil)}},
		{"degraded crew becomes ok", []datatypes.PathResult{regionSQL(), crewResult(nil, "statistician")}, []datatypes.PathResult{regionSQL(), crewResult(nil)}},
		{"degraded bi becomes ok", []datatypes.PathResult{crewResult(nil, "bi_specialist")}, []datatypes.PathResult{crewResult(nil)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fewer := synth(t, tc.fewer...)
			more := synth(t, tc.more...)
			assert.GreaterOrEqual(t, more.Confidence, fewer.Confidence)
		})
	}
}

func TestConfidence_DegradedCrewFactors(t *testing.T) {
	res := synth(t, crewResult(nil, "statistician", "bi_specialist"))

	assert.InDelta(t, 0.3, res.Factors.StatisticalSignificance, 1e-9)
	assert.InDelta(t, 0.5, res.Factors.BusinessRelevance, 1e-9)
	assert.InDelta(t, 0.375, res.Factors.AnalysisDepth, 1e-9)
}

func TestConfidence_EmptySQLResult(t *testing.T) {
	res := synth(t, sqlResult(0, []string{"total"}))
	assert.InDelta(t, 0.4, res.Factors.DataQuality, 1e-9)
	assert.Contains(t, res.AnswerText, "The query returned 0 rows")
}

func TestConfidence_LargeSQLResultIsSignificant(t *testing.T) {
	res := synth(t, sqlResult(45, []string{"region", "total"}, []any{"East", 1.5}))
	assert.InDelta(t, 0.6, res.Factors.StatisticalSignificance, 1e-9)
}

func TestSynthesize_CapsAndVisualizations(t *testing.T) {
	res := synth(t, crewResult(nil))

	assert.Len(t, res.Insights, 5)
	assert.Equal(t, "data_analyst insight one", res.Insights[0])
	require.Len(t, res.Recommendations, 4)
	assert.Equal(t, "bi_specialist recommendation", res.Recommendations[0])
	require.Len(t, res.Visualizations, 1)
	assert.Equal(t, "bar", res.Visualizations[0].Type)

	res = synth(t, crewResult(nil, "viz_expert"))
	assert.Empty(t, res.Visualizations)
}

func TestSynthesize_Polish(t *testing.T) {
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{Response: "Polished answer."}}
	res, err := New(client, nil, DefaultConfig()).Synthesize(context.Background(), []datatypes.PathResult{regionSQL()}, testQuery)
	require.NoError(t, err)
	assert.Equal(t, "Polished answer.", res.AnswerText)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, testQuery.Text)
	assert.Contains(t, calls[0].Prompt, "region=East, total=300")
}

func TestSynthesize_PolishFailureKeepsDraft(t *testing.T) {
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{Err: errors.New("rate limited")}}
	res, err := New(client, nil, DefaultConfig()).Synthesize(context.Background(), []datatypes.PathResult{regionSQL()}, testQuery)
	require.NoError(t, err)
	assert.Contains(t, res.AnswerText, "The query returned 2 rows")
}

func TestSQLMetrics(t *testing.T) {
	single := &datatypes.SQLPayload{RowCount: 1, ColumnNames: []string{"Total_Sales", "label"}, SampleRows: [][]any{{int64(1200), "all"}}}
	assert.Equal(t, map[string]float64{"total_sales": 1200}, SQLMetrics(single))

	multi := &datatypes.SQLPayload{
		RowCount:    3,
		ColumnNames: []string{"year", "region", "amount"},
		SampleRows: [][]any{
			{"2024", "North", 10.5},
			{nil, nil, 3.0},
			{"2024", "South", int32(7)},
		},
	}
	assert.Equal(t, map[string]float64{"north.amount": 10.5, "south.amount": 7}, SQLMetrics(multi))
	assert.Nil(t, SQLMetrics(nil))
}

func TestReconcile_Tolerance(t *testing.T) {
	_, conflicts, compared := Reconcile(
		map[string]float64{"a": 100, "b": 0, "c": 50},
		map[string]float64{"a": 100.9, "b": 0, "d": 1},
		0.01,
	)
	assert.Empty(t, conflicts)
	assert.Equal(t, 2, compared)

	_, conflicts, _ = Reconcile(map[string]float64{"a": 100}, map[string]float64{"a": 101.5}, 0.01)
	assert.Len(t, conflicts, 1)
}

func TestWeights(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	bad := DefaultWeights()
	bad.Consistency = 0.5
	assert.Error(t, bad.Validate())

	all := datatypes.ConfidenceFactors{DataQuality: 1, AnalysisDepth: 1, Consistency: 1, StatisticalSignificance: 1, BusinessRelevance: 1}
	assert.Equal(t, 1.0, bad.Score(all), "score is clamped")
	for i := 0; i <= 10; i++ {
		v := float64(i) / 10
		f := datatypes.ConfidenceFactors{DataQuality: v, AnalysisDepth: v, Consistency: v, StatisticalSignificance: v, BusinessRelevance: v}
		s := DefaultWeights().Score(f)
		assert.True(t, s >= 0 && s <= 1, fmt.Sprintf("score %v out of range", s))
	}
}
