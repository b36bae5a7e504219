// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sqlpath

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/services/llm/llmtest"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// spyExecutor records every query it is asked to run.
type spyExecutor struct {
	mu      sync.Mutex
	queries []string
	result  datasource.QueryResult
	err     error
}

func (s *spyExecutor) Run(_ context.Context, query string, _ datatypes.DataSourceRef, _ time.Duration) (datasource.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return s.result, s.err
}

func (s *spyExecutor) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type fixedDialect string

func (d fixedDialect) Dialect(datatypes.DataSourceRef) string { return string(d) }

func salesInput(text string) datatypes.PathInput {
	return datatypes.PathInput{
		Query:  datatypes.NewQuery("s1", text, datatypes.DataSourceRef{ID: "db1", Kind: datatypes.SourceDatabase}),
		Intent: datatypes.IntentRecord{AnalysisType: datatypes.AnalysisDescriptive, Intent: datatypes.IntentSummary, Confidence: 0.9},
		Schema: datatypes.Schema{Tables: []datatypes.Table{{
			Name:    "sales",
			Columns: []datatypes.Column{{Name: "region", Type: "TEXT"}, {Name: "amount", Type: "REAL"}},
		}}},
	}
}

func TestRun_TotalSalesByRegion(t *testing.T) {
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{
		Response: "```sql\nSELECT region, SUM(amount) AS total FROM sales GROUP BY region\n```",
	}}
	exec := &spyExecutor{result: datasource.QueryResult{
		Columns:  []string{"region", "total"},
		Rows:     [][]any{{"East", 300.0}, {"West", 200.0}},
		RowCount: 2,
	}}

	p := New(client, nil, exec, fixedDialect(datasource.DialectPostgres), DefaultConfig())
	res := p.Run(context.Background(), salesInput("show me total sales by region from the database"))

	require.Equal(t, datatypes.StatusOK, res.Status, res.Error)
	require.NotNil(t, res.SQL)
	assert.Equal(t, datatypes.PathSQL, res.Path)
	assert.Contains(t, res.SQL.Query, "GROUP BY region")
	assert.Equal(t, 2, res.SQL.RowCount)
	assert.Equal(t, 1, res.SQL.Attempts)
	assert.Equal(t, []string{"region", "total"}, res.SQL.ColumnNames)
	assert.Equal(t, []string{"SELECT region, SUM(amount) AS total FROM sales GROUP BY region;"}, exec.Queries())

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "PostgreSQL")
	assert.Contains(t, calls[0].System, "sales(region TEXT, amount REAL)")
	assert.Contains(t, calls[0].Prompt, "show me total sales by region")
	assert.NotContains(t, calls[0].Prompt, "previous attempt")
}

func TestRun_RegeneratesOnceWithFeedback(t *testing.T) {
	client := &llmtest.ScriptedClient{
		Rules: []llmtest.Rule{
			{Match: "previous attempt was rejected", Response: "SELECT region, SUM(amount) FROM sales GROUP BY region"},
		},
		Default: llmtest.Rule{Response: "SELECT region, SUM(amount) FROM sales"},
	}
	exec := &spyExecutor{result: datasource.QueryResult{RowCount: 0}}

	res := New(client, nil, exec, nil, DefaultConfig()).Run(context.Background(), salesInput("totals by region"))

	require.Equal(t, datatypes.StatusOK, res.Status, res.Error)
	assert.Equal(t, 2, res.SQL.Attempts)
	require.Len(t, exec.Queries(), 1)
	assert.Contains(t, exec.Queries()[0], "GROUP BY")

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Prompt, "group_by")
	assert.Contains(t, calls[0].System, "SQLite")
}

func TestRun_TwoInvalidQueriesNeverExecute(t *testing.T) {
	invalid := []string{
		"SELECT revenue FROM sales",
		"DROP TABLE sales",
		"SELECT * FROM orders",
		"SELECT region, SUM(amount) FROM sales",
		"SELECT * FROM sales; DELETE FROM sales",
	}
	for _, q := range invalid {
		t.Run(q, func(t *testing.T) {
			client := &llmtest.ScriptedClient{Default: llmtest.Rule{Response: q}}
			exec := &spyExecutor{}

			res := New(client, nil, exec, nil, DefaultConfig()).Run(context.Background(), salesInput("anything"))

			assert.Equal(t, datatypes.StatusFailed, res.Status)
			var verr *datatypes.SQLValidationError
			assert.True(t, errors.As(res.Err, &verr), "got %v", res.Err)
			assert.Empty(t, exec.Queries())
			assert.Len(t, client.Calls(), MaxAttempts)
			require.NotNil(t, res.SQL, "the rejected statement is kept")
			assert.Equal(t, MaxAttempts, res.SQL.Attempts)
			assert.NotEmpty(t, res.SQL.Query)
		})
	}
}

func TestRun_ExecutionErrorIsNotRetried(t *testing.T) {
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{Response: "SELECT region FROM sales"}}
	exec := &spyExecutor{err: errors.New("database is locked")}

	res := New(client, nil, exec, nil, DefaultConfig()).Run(context.Background(), salesInput("regions"))

	assert.Equal(t, datatypes.StatusFailed, res.Status)
	var xerr *datatypes.SQLExecutionError
	require.ErrorAs(t, res.Err, &xerr)
	assert.Equal(t, "SELECT region FROM sales;", xerr.Query)
	require.NotNil(t, res.SQL)
	assert.Equal(t, xerr.Query, res.SQL.Query)
	assert.Len(t, exec.Queries(), 1)
	assert.Len(t, client.Calls(), 1)
}

func TestRun_GenerationError(t *testing.T) {
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{Err: errors.New("connection refused")}}
	exec := &spyExecutor{}

	res := New(client, nil, exec, nil, DefaultConfig()).Run(context.Background(), salesInput("regions"))

	assert.Equal(t, datatypes.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "connection refused")
	assert.Empty(t, exec.Queries())
}

func TestRun_SampleRowsAreCapped(t *testing.T) {
	rows := make([][]any, 25)
	for i := range rows {
		rows[i] = []any{"r", float64(i)}
	}
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{Response: "SELECT region, amount FROM sales"}}
	exec := &spyExecutor{result: datasource.QueryResult{Columns: []string{"region", "amount"}, Rows: rows, RowCount: 25}}

	res := New(client, nil, exec, nil, DefaultConfig()).Run(context.Background(), salesInput("all rows"))

	require.Equal(t, datatypes.StatusOK, res.Status)
	assert.Len(t, res.SQL.SampleRows, 10)
	assert.Equal(t, 25, res.SQL.RowCount)
}

func TestRun_HistoryInPrompt(t *testing.T) {
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{Response: "SELECT region FROM sales"}}
	in := salesInput("and by region?")
	in.History = []datatypes.Message{
		{Role: datatypes.RoleUser, Content: "what were total sales"},
		{Role: datatypes.RoleAssistant, Content: strings.Repeat("a", 300)},
	}

	New(client, nil, &spyExecutor{}, nil, DefaultConfig()).Run(context.Background(), in)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "user: what were total sales")
	assert.NotContains(t, calls[0].System, strings.Repeat("a", 101))
}

func TestRun_SimilarQuestionsInPrompt(t *testing.T) {
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{Response: "SELECT region FROM sales"}}
	in := salesInput("sales per region")
	in.Similar = []datatypes.SimilarQuery{{
		Question:  "total sales by region",
		SQL:       "SELECT region, SUM(amount) FROM sales GROUP BY region;",
		Summary:   strings.Repeat("b", 300),
		Certainty: 0.93,
	}}

	New(client, nil, &spyExecutor{}, nil, DefaultConfig()).Run(context.Background(), in)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "Similar questions answered before")
	assert.Contains(t, calls[0].System, "Q: total sales by region")
	assert.Contains(t, calls[0].System, "SQL: SELECT region, SUM(amount) FROM sales GROUP BY region;")
	assert.NotContains(t, calls[0].System, strings.Repeat("b", datatypes.SimilarSummaryChars+1))
}

func TestRun_NoSimilarSectionWithoutMemory(t *testing.T) {
	client := &llmtest.ScriptedClient{Default: llmtest.Rule{Response: "SELECT region FROM sales"}}

	New(client, nil, &spyExecutor{}, nil, DefaultConfig()).Run(context.Background(), salesInput("sales per region"))

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].System, "Similar questions")
}
